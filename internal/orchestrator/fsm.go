package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/loomery/loom/internal/store"
	"github.com/loomery/loom/pkg/schema"
)

// EventAppender is satisfied by the Store; FSMs emit log events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ValidRunTransitions enumerates the allowed run state changes. Runs only
// ever move forward; terminal states admit nothing.
var ValidRunTransitions = map[schema.RunState][]schema.RunState{
	schema.RunStatePending: {schema.RunStateRunning},
	schema.RunStateRunning: {schema.RunStateSuccess, schema.RunStateFailed, schema.RunStateCrashed},
	schema.RunStateSuccess: {},
	schema.RunStateFailed:  {},
	schema.RunStateCrashed: {},
}

// ValidWorkOrderTransitions enumerates the allowed work order state changes.
// A retry moves a settled work order back to running.
var ValidWorkOrderTransitions = map[schema.WorkOrderState][]schema.WorkOrderState{
	schema.WorkOrderStatePending: {schema.WorkOrderStateRunning},
	schema.WorkOrderStateRunning: {schema.WorkOrderStateSuccess, schema.WorkOrderStateFailed},
	schema.WorkOrderStateSuccess: {schema.WorkOrderStateRunning},
	schema.WorkOrderStateFailed:  {schema.WorkOrderStateRunning},
}

// RunFSM validates run state transitions and emits the matching log event.
// The caller persists the new state; the FSM never touches the runs table.
type RunFSM struct {
	appender EventAppender
}

// NewRunFSM creates a RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{appender: appender}
}

// Transition validates and records a run state transition.
func (f *RunFSM) Transition(ctx context.Context, workOrderID, runID string, from, to schema.RunState) error {
	if !allowedRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	eventType := schema.EventRunStarted
	if to.Terminal() {
		eventType = schema.EventRunCompleted
	}

	payload, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
	event := &store.Event{
		WorkOrderID: workOrderID,
		RunID:       runID,
		Type:        eventType,
		Payload:     payload,
	}
	if err := f.appender.AppendEvent(ctx, event); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
	}
	return nil
}

func allowedRunTransition(from, to schema.RunState) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// WorkOrderFSM validates work order state transitions.
type WorkOrderFSM struct{}

// Check returns an error if the work order transition is not allowed.
func (f *WorkOrderFSM) Check(workOrderID string, from, to schema.WorkOrderState) error {
	for _, a := range ValidWorkOrderTransitions[from] {
		if a == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeValidation,
		"invalid work order transition: %s -> %s", from, to).
		WithDetails(map[string]any{"work_order_id": workOrderID, "from": string(from), "to": string(to)})
}
