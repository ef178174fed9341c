package expressions

import (
	"encoding/json"

	"github.com/loomery/loom/pkg/schema"
)

// ConditionScope holds the data a condition expression may reference.
// State is the upstream step's output dataclip; Run and Workflow carry
// identifying metadata so conditions can branch on exit reasons or names.
type ConditionScope struct {
	State    map[string]any
	Run      map[string]any
	Workflow map[string]any
}

// NewConditionScope parses a step's output dataclip body into a scope.
// A nil or non-object body yields an empty state map rather than an error:
// conditions on a step that produced no JSON object still evaluate, they
// just see no state.
func NewConditionScope(state json.RawMessage) *ConditionScope {
	sc := &ConditionScope{
		State:    map[string]any{},
		Run:      map[string]any{},
		Workflow: map[string]any{},
	}
	if len(state) == 0 {
		return sc
	}

	var parsed map[string]any
	if err := json.Unmarshal(state, &parsed); err == nil && parsed != nil {
		sc.State = parsed
	}
	return sc
}

// WithRun attaches run metadata to the scope.
func (sc *ConditionScope) WithRun(runID string, exit schema.ExitReason) *ConditionScope {
	sc.Run = map[string]any{
		"run_id":      runID,
		"exit_reason": string(exit),
	}
	return sc
}

// WithWorkflow attaches workflow metadata to the scope.
func (sc *ConditionScope) WithWorkflow(workflowID, name string) *ConditionScope {
	sc.Workflow = map[string]any{
		"workflow_id": workflowID,
		"name":        name,
	}
	return sc
}

// Map renders the scope as the flat environment the engines consume.
// The state map is additionally spread at the top level so expressions can
// write `x > 5` instead of `state.x > 5`.
func (sc *ConditionScope) Map() map[string]any {
	out := make(map[string]any, len(sc.State)+3)
	for k, v := range sc.State {
		out[k] = v
	}
	out["state"] = sc.State
	out["run"] = sc.Run
	out["workflow"] = sc.Workflow
	return out
}
