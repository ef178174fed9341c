package store

import (
	"encoding/json"
	"time"

	"github.com/loomery/loom/pkg/schema"
)

// Workflow is the persisted, editable workflow aggregate. LockVersion
// increments by exactly one on every accepted save; execution never reads the
// live graph directly, only snapshots of it.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	LockVersion int64           `json:"lock_version"`
	Graph       schema.Graph    `json:"graph"`
	Positions   json.RawMessage `json:"positions,omitempty"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
	InsertedAt  time.Time       `json:"inserted_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Snapshot is an immutable point-in-time copy of a workflow's graph, bound to
// a run at creation time. Never mutated after insert.
type Snapshot struct {
	ID          string       `json:"id"`
	WorkflowID  string       `json:"workflow_id"`
	Name        string       `json:"name,omitempty"`
	LockVersion int64        `json:"lock_version"`
	Graph       schema.Graph `json:"graph"`
	CreatedAt   time.Time    `json:"created_at"`
}

// WorkOrder is one external invocation of a workflow. It owns one or more
// runs; more than one only via retry.
type WorkOrder struct {
	ID         string                `json:"id"`
	WorkflowID string                `json:"workflow_id"`
	TriggerID  string                `json:"trigger_id,omitempty"` // empty for manual job-start
	DataclipID string                `json:"dataclip_id"`
	State      schema.WorkOrderState `json:"state"`
	InsertedAt time.Time             `json:"inserted_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// Run is one execution attempt. Exactly one of StartingTriggerID or
// StartingJobID is set. A retry creates a new Run, never mutates an old one.
type Run struct {
	ID                string          `json:"id"`
	WorkOrderID       string          `json:"work_order_id"`
	SnapshotID        string          `json:"snapshot_id"`
	StartingTriggerID string          `json:"starting_trigger_id,omitempty"`
	StartingJobID     string          `json:"starting_job_id,omitempty"`
	DataclipID        string          `json:"dataclip_id"`
	State             schema.RunState `json:"state"`
	ErrorType         string          `json:"error_type,omitempty"`
	InsertedAt        time.Time       `json:"inserted_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
}

// Step is the execution of one job within a run. A step may be attached to
// more than one run via the run_steps link table.
type Step struct {
	ID               string            `json:"id"`
	JobID            string            `json:"job_id"`
	InputDataclipID  string            `json:"input_dataclip_id"`
	OutputDataclipID string            `json:"output_dataclip_id,omitempty"`
	ExitReason       schema.ExitReason `json:"exit_reason,omitempty"` // empty while running
	ErrorType        string            `json:"error_type,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       *time.Time        `json:"finished_at,omitempty"`
}

// InFlightStep identifies a dispatched step that has not reported completion,
// together with the run it belongs to.
type InFlightStep struct {
	RunID     string    `json:"run_id"`
	StepID    string    `json:"step_id"`
	JobID     string    `json:"job_id"`
	StartedAt time.Time `json:"started_at"`
}

// Dataclip is a stored JSON payload used as step input or output. Once
// WipedAt is set the body is irrecoverably erased.
type Dataclip struct {
	ID         string              `json:"id"`
	ProjectID  string              `json:"project_id,omitempty"`
	Type       schema.DataclipType `json:"type"`
	Body       json.RawMessage     `json:"body,omitempty"`
	Name       string              `json:"name,omitempty"`
	WipedAt    *time.Time          `json:"wiped_at,omitempty"`
	InsertedAt time.Time           `json:"inserted_at"`
}

// Credential is a named secret payload attached to jobs. Body is encrypted at
// rest by the vault and never serialized.
type Credential struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Body       []byte    `json:"-"`
	InsertedAt time.Time `json:"inserted_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CronSchedule is the scheduler's materialized view of one enabled cron
// trigger, synced on every workflow save.
type CronSchedule struct {
	TriggerID      string     `json:"trigger_id"`
	WorkflowID     string     `json:"workflow_id"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
}

// Event is an immutable entry in the per-work-order execution log.
type Event struct {
	ID          int64           `json:"id"`
	WorkOrderID string          `json:"work_order_id"`
	RunID       string          `json:"run_id,omitempty"`
	StepID      string          `json:"step_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// SaveResult is returned by a successful compare-and-set workflow save.
type SaveResult struct {
	LockVersion int64     `json:"lock_version"`
	SavedAt     time.Time `json:"saved_at"`
}

// StepUpdate carries a step's completion report.
type StepUpdate struct {
	ExitReason       schema.ExitReason `json:"exit_reason"`
	ErrorType        string            `json:"error_type,omitempty"`
	OutputDataclipID string            `json:"output_dataclip_id,omitempty"`
	FinishedAt       time.Time         `json:"finished_at"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	State      *schema.RunState `json:"state,omitempty"`
	ErrorType  string           `json:"error_type,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// CronScheduleUpdate specifies mutable fields of a cron schedule.
type CronScheduleUpdate struct {
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// CronScheduleFilter specifies criteria for listing cron schedules.
type CronScheduleFilter struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
}
