package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/loomery/loom/pkg/schema"
)

// StepRequest is the execution hand-off for one step. The job body is opaque
// adaptor code; the orchestrator never interprets it.
type StepRequest struct {
	RunID      string          `json:"run_id"`
	StepID     string          `json:"step_id"`
	Job        schema.Job      `json:"job"`
	Input      json.RawMessage `json:"input,omitempty"`
	Credential json.RawMessage `json:"credential,omitempty"`
}

// CompletionReport is what the executor sends back when a step finishes.
// RawExitReason is the executor's open vocabulary; the orchestrator normalizes
// it before recording anything.
type CompletionReport struct {
	RawExitReason string          `json:"exit_reason"`
	ErrorType     string          `json:"error_type,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
}

// JobExecutor is the external job-execution collaborator. ExecuteStep is an
// asynchronous hand-off: it returns once the step is accepted, and the
// executor later reports completion through Orchestrator.OnStepComplete.
// The orchestrator never blocks waiting on job execution and never cancels a
// dispatched step.
type JobExecutor interface {
	ExecuteStep(ctx context.Context, req StepRequest) error
}

// JobExecutorFunc adapts a function to the JobExecutor interface.
type JobExecutorFunc func(ctx context.Context, req StepRequest) error

// ExecuteStep calls f.
func (f JobExecutorFunc) ExecuteStep(ctx context.Context, req StepRequest) error {
	return f(ctx, req)
}
