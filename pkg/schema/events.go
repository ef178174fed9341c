package schema

// Event type constants for the append-only execution event log.
const (
	EventWorkOrderCreated = "work_order_created"

	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunRetried   = "run_retried"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepLost      = "step_lost"

	EventEdgeFired   = "edge_fired"
	EventEdgeSkipped = "edge_skipped"

	EventWorkflowSaved   = "workflow_saved"
	EventSnapshotCreated = "snapshot_created"
	EventDataclipWiped   = "dataclip_wiped"
)

// DataclipType classifies how a dataclip came to exist.
type DataclipType string

const (
	DataclipHTTPRequest DataclipType = "http_request"
	DataclipGlobal      DataclipType = "global"
	DataclipStepResult  DataclipType = "step_result"
	DataclipSaved       DataclipType = "saved_input"
)
