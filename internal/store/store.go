package store

import (
	"context"
	"time"

	"github.com/loomery/loom/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	// SaveWorkflow commits a new graph payload iff the stored lock_version
	// equals expectedLockVersion at the moment of commit (single atomic
	// compare-and-set, no merge). On success the lock version increments by
	// exactly one.
	SaveWorkflow(ctx context.Context, id string, payload schema.WorkflowPayload, expectedLockVersion int64) (*SaveResult, error)
	DeleteWorkflow(ctx context.Context, id string) error // soft delete, one-way
	ListWorkflows(ctx context.Context) ([]*Workflow, error)

	// Snapshots
	CreateSnapshot(ctx context.Context, workflowID string) (*Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)

	// Work orders
	CreateWorkOrder(ctx context.Context, wo *WorkOrder) error
	GetWorkOrder(ctx context.Context, id string) (*WorkOrder, error)
	UpdateWorkOrderState(ctx context.Context, id string, state schema.WorkOrderState) error

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	// CreateRetryRun inserts a retry run transactionally, re-checking that
	// the input dataclip is not wiped and the workflow is not deleted at the
	// moment of insert.
	CreateRetryRun(ctx context.Context, run *Run, workflowID string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListWorkOrderRuns(ctx context.Context, workOrderID string) ([]*Run, error)

	// Steps
	CreateStep(ctx context.Context, runID string, step *Step) error
	AttachStep(ctx context.Context, runID, stepID string) error
	GetStep(ctx context.Context, id string) (*Step, error)
	GetStepForJob(ctx context.Context, runID, jobID string) (*Step, error)
	UpdateStep(ctx context.Context, id string, update StepUpdate) error
	ListRunSteps(ctx context.Context, runID string) ([]*Step, error)
	// ListInFlightSteps returns steps of non-terminal runs that have no exit
	// reason and started at or before the cutoff. Used by the step watchdog.
	ListInFlightSteps(ctx context.Context, cutoff time.Time) ([]*InFlightStep, error)

	// Dataclips
	CreateDataclip(ctx context.Context, dc *Dataclip) error
	GetDataclip(ctx context.Context, id string) (*Dataclip, error)
	WipeDataclip(ctx context.Context, id string) error

	// Credentials
	StoreCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, id string) (*Credential, error)
	DeleteCredential(ctx context.Context, id string) error
	ListCredentials(ctx context.Context) ([]*Credential, error)

	// Cron schedules
	SyncCronSchedules(ctx context.Context, workflowID string, schedules []CronSchedule) error
	ListCronSchedules(ctx context.Context, filter CronScheduleFilter) ([]*CronSchedule, error)
	UpdateCronSchedule(ctx context.Context, triggerID string, update CronScheduleUpdate) error

	// Events (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, workOrderID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
