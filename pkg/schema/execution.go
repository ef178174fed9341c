package schema

// WorkOrderState represents the lifecycle state of a work order.
type WorkOrderState string

const (
	WorkOrderStatePending WorkOrderState = "pending"
	WorkOrderStateRunning WorkOrderState = "running"
	WorkOrderStateSuccess WorkOrderState = "success"
	WorkOrderStateFailed  WorkOrderState = "failed"
)

// RunState represents the lifecycle state of a run.
type RunState string

const (
	RunStatePending RunState = "pending"
	RunStateRunning RunState = "running"
	RunStateSuccess RunState = "success"
	RunStateFailed  RunState = "failed"
	RunStateCrashed RunState = "crashed"
)

// Terminal reports whether the run state admits no further transitions.
func (s RunState) Terminal() bool {
	return s == RunStateSuccess || s == RunStateFailed || s == RunStateCrashed
}

// ExitReason is the normalized outcome of a step. Empty means the step is
// still pending a completion report.
type ExitReason string

const (
	ExitSuccess ExitReason = "success"
	ExitFail    ExitReason = "fail"
	ExitCrash   ExitReason = "crash"
)

// NormalizeExitReason maps the executor's open-ended exit vocabulary onto the
// closed ExitReason enum. The mapping is total: unrecognized values downgrade
// to fail so an unexpected executor output can never read as success. An empty
// raw value means the step has not completed and stays pending.
func NormalizeExitReason(raw string) (ExitReason, bool) {
	switch raw {
	case "":
		return "", false
	case "success":
		return ExitSuccess, true
	case "crash", "exception", "lost":
		return ExitCrash, true
	case "fail":
		return ExitFail, true
	default:
		return ExitFail, true
	}
}

// RunStateForExits derives a run's terminal state from its steps' exit
// reasons: crashed if any step crashed, failed if any step failed, success
// otherwise.
func RunStateForExits(exits []ExitReason) RunState {
	state := RunStateSuccess
	for _, e := range exits {
		switch e {
		case ExitCrash:
			return RunStateCrashed
		case ExitFail:
			state = RunStateFailed
		}
	}
	return state
}
