// Package orchestrator drives work orders, runs, and steps over immutable
// workflow snapshots. Step execution is an asynchronous hand-off to an
// external job executor; completion reports re-enter through OnStepComplete
// and resume the state machine.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loomery/loom/internal/expressions"
	"github.com/loomery/loom/internal/graph"
	"github.com/loomery/loom/internal/logging"
	"github.com/loomery/loom/internal/redaction"
	"github.com/loomery/loom/internal/secrets"
	"github.com/loomery/loom/internal/store"
	"github.com/loomery/loom/internal/streaming"
	"github.com/loomery/loom/pkg/schema"
)

// DefaultPoolSize is the default step dispatch concurrency.
const DefaultPoolSize = 10

// Config holds orchestrator tuning knobs.
type Config struct {
	PoolSize int // max concurrent step dispatches
}

// StartResult is returned by the run-starting operations.
type StartResult struct {
	WorkOrderID string          `json:"work_order_id"`
	RunID       string          `json:"run_id"`
	Dataclip    *store.Dataclip `json:"dataclip,omitempty"`
}

// Orchestrator coordinates run execution. Each run is internally sequential;
// independent runs progress concurrently with no ordering between them.
type Orchestrator struct {
	store      store.Store
	snapshots  SnapshotSource
	hub        streaming.EventHub
	vault      secrets.Vault
	conditions *expressions.ConditionEvaluator
	jq         *expressions.GoJQEngine
	redactor   *redaction.Engine
	executor   JobExecutor
	pool       *WorkerPool
	runFSM     *RunFSM
	woFSM      *WorkOrderFSM
	logger     *slog.Logger
	now        func() time.Time
}

// SnapshotSource materializes the immutable snapshot a run binds to.
// Defaults to the bare store; the snapshot manager satisfies it too and
// additionally records snapshot_created events.
type SnapshotSource interface {
	Materialize(ctx context.Context, workflowID string) (*store.Snapshot, error)
}

type storeSnapshots struct{ s store.Store }

func (ss storeSnapshots) Materialize(ctx context.Context, workflowID string) (*store.Snapshot, error) {
	return ss.s.CreateSnapshot(ctx, workflowID)
}

// emptySecretSource backs the redactor when no vault is configured.
type emptySecretSource struct{}

func (emptySecretSource) ScalarValues(context.Context, string) ([]string, error) {
	return nil, nil
}

// New creates an Orchestrator. vault may be nil, in which case steps are
// dispatched without credentials and redaction has no secrets to mask.
func New(s store.Store, executor JobExecutor, vault secrets.Vault, conditions *expressions.ConditionEvaluator, logger *slog.Logger, cfg Config) *Orchestrator {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	var src redaction.SecretSource = emptySecretSource{}
	if vault != nil {
		src = vault
	}

	return &Orchestrator{
		store:      s,
		snapshots:  storeSnapshots{s},
		vault:      vault,
		conditions: conditions,
		jq:         expressions.NewGoJQEngine(),
		redactor:   redaction.NewEngine(src),
		executor:   executor,
		pool:       NewWorkerPool(cfg.PoolSize),
		runFSM:     NewRunFSM(s),
		woFSM:      &WorkOrderFSM{},
		logger:     logger,
		now:        time.Now,
	}
}

// UseSnapshots swaps the snapshot source. Call before the first run starts.
func (o *Orchestrator) UseSnapshots(src SnapshotSource) {
	if src != nil {
		o.snapshots = src
	}
}

// UseEvents attaches a hub that receives a live copy of every execution
// event. Call before the first run starts.
func (o *Orchestrator) UseEvents(hub streaming.EventHub) {
	o.hub = hub
}

// Shutdown drains in-flight step dispatches.
func (o *Orchestrator) Shutdown() {
	o.pool.Shutdown()
}

// StartRunFromJob starts a manual run from an arbitrary job, regardless of
// its position in the graph. No trigger is recorded as the starting point.
// A missing input payload is synthesized as an empty dataclip.
func (o *Orchestrator) StartRunFromJob(ctx context.Context, jobID string, inputPayload json.RawMessage) (*StartResult, error) {
	wf, err := o.findWorkflowWithJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(ctx, wf.ID)

	snap, err := o.snapshots.Materialize(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	model := graph.New(snap.Graph)
	job, err := model.ResolveStartNode(graph.StartInput{JobID: jobID})
	if err != nil {
		return nil, err
	}

	body := inputPayload
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}
	dc := &store.Dataclip{Type: schema.DataclipSaved, Body: body}
	if err := o.store.CreateDataclip(ctx, dc); err != nil {
		return nil, err
	}

	wo, run, err := o.createWorkOrder(ctx, wf.ID, "", snap.ID, dc.ID, jobID)
	if err != nil {
		return nil, err
	}

	if err := o.beginRun(ctx, wo, run, snap, job, dc.ID); err != nil {
		return nil, err
	}
	return &StartResult{WorkOrderID: wo.ID, RunID: run.ID, Dataclip: dc}, nil
}

// StartRunFromTrigger starts a run from a trigger. The chain's first job is
// the first enabled outgoing edge's target, in edge order. When no dataclip
// is supplied an empty one is created.
func (o *Orchestrator) StartRunFromTrigger(ctx context.Context, triggerID, dataclipID string) (*StartResult, error) {
	wf, trigger, err := o.findWorkflowWithTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(ctx, wf.ID)

	snap, err := o.snapshots.Materialize(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	model := graph.New(snap.Graph)
	job, err := model.ResolveStartNode(graph.StartInput{TriggerID: trigger.ID})
	if err != nil {
		return nil, err
	}

	var dc *store.Dataclip
	if dataclipID == "" {
		dcType := schema.DataclipHTTPRequest
		if trigger.Type == schema.TriggerTypeCron {
			dcType = schema.DataclipGlobal
		}
		dc = &store.Dataclip{Type: dcType, Body: json.RawMessage(`{}`)}
		if err := o.store.CreateDataclip(ctx, dc); err != nil {
			return nil, err
		}
	} else {
		dc, err = o.store.GetDataclip(ctx, dataclipID)
		if err != nil {
			return nil, err
		}
		if dc.WipedAt != nil {
			return nil, schema.NewErrorf(schema.ErrCodeDataclipWiped,
				"dataclip %q has been wiped", dataclipID)
		}
	}

	wo, run, err := o.createWorkOrder(ctx, wf.ID, trigger.ID, snap.ID, dc.ID, "")
	if err != nil {
		return nil, err
	}

	if err := o.beginRun(ctx, wo, run, snap, job, dc.ID); err != nil {
		return nil, err
	}
	return &StartResult{WorkOrderID: wo.ID, RunID: run.ID}, nil
}

// GetStep returns the most recent step executing the given job within a run.
func (o *Orchestrator) GetStep(ctx context.Context, runID, jobID string) (*store.Step, error) {
	step, err := o.store.GetStepForJob(ctx, runID, jobID)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeNotFound {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound,
				"no step for job %q in run %q", jobID, runID).
				WithDetails(map[string]any{"entity": "step", "run_id": runID, "job_id": jobID})
		}
		return nil, err
	}
	return step, nil
}

// RetryRun creates a new run on the same work order, starting from the given
// step's job with that step's input dataclip. The new run binds a fresh
// snapshot at the workflow's current version; the original run is untouched.
func (o *Orchestrator) RetryRun(ctx context.Context, runID, stepID string) (*StartResult, error) {
	if stepID == "" {
		return nil, schema.NewError(schema.ErrCodeMissingStepID,
			"retry requires an explicit step id; retry targets are never inferred")
	}

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeNotFound {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID).
				WithDetails(map[string]any{"entity": "run", "run_id": runID})
		}
		return nil, err
	}
	ctx = logging.WithRunID(ctx, runID)

	step, err := o.stepInRun(ctx, runID, stepID)
	if err != nil {
		return nil, err
	}

	wo, err := o.store.GetWorkOrder(ctx, run.WorkOrderID)
	if err != nil {
		return nil, err
	}
	wf, err := o.store.GetWorkflow(ctx, wo.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf.DeletedAt != nil {
		return nil, schema.NewErrorf(schema.ErrCodeWorkflowDeleted,
			"workflow %q has been deleted", wf.ID)
	}

	dc, err := o.store.GetDataclip(ctx, step.InputDataclipID)
	if err != nil {
		return nil, err
	}
	if dc.WipedAt != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDataclipWiped,
			"input dataclip %q has been wiped", dc.ID)
	}

	// Fresh snapshot at the current version: a retry picks up graph edits
	// made after the original failure.
	snap, err := o.snapshots.Materialize(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	job, ok := graph.New(snap.Graph).Job(step.JobID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"job %q no longer exists in workflow %q", step.JobID, wf.ID).
			WithDetails(map[string]any{"entity": "job", "job_id": step.JobID})
	}

	retry := &store.Run{
		WorkOrderID:   wo.ID,
		SnapshotID:    snap.ID,
		StartingJobID: step.JobID,
		DataclipID:    step.InputDataclipID,
		State:         schema.RunStatePending,
	}
	// The store re-checks wipe and deletion inside the insert transaction.
	if err := o.store.CreateRetryRun(ctx, retry, wf.ID); err != nil {
		return nil, err
	}

	o.emit(ctx, wo.ID, retry.ID, "", schema.EventRunRetried, map[string]any{
		"retried_from_run": runID,
		"step_id":          stepID,
	})

	// A settled work order goes back to running for the retry attempt.
	if o.woFSM.Check(wo.ID, wo.State, schema.WorkOrderStateRunning) == nil {
		if err := o.store.UpdateWorkOrderState(ctx, wo.ID, schema.WorkOrderStateRunning); err != nil {
			return nil, err
		}
		wo.State = schema.WorkOrderStateRunning
	}

	if err := o.startRun(ctx, wo, retry, snap, job, step.InputDataclipID); err != nil {
		return nil, err
	}
	return &StartResult{WorkOrderID: wo.ID, RunID: retry.ID}, nil
}

// OnStepComplete ingests a completion report from the job executor, records
// the step outcome, and advances the run: firing edges spawn follow-up steps,
// and a run with nothing left in flight settles into its terminal state.
func (o *Orchestrator) OnStepComplete(ctx context.Context, runID, stepID string, report CompletionReport) error {
	exit, completed := schema.NormalizeExitReason(report.RawExitReason)
	if !completed {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"completion report for step %q carries no exit reason", stepID).WithStep(stepID)
	}
	ctx = logging.WithIDs(ctx, "", runID, stepID)

	step, err := o.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	if step.ExitReason != "" {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"step %q already reported exit %q", stepID, step.ExitReason).WithStep(stepID)
	}
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	wo, err := o.store.GetWorkOrder(ctx, run.WorkOrderID)
	if err != nil {
		return err
	}

	var outputID string
	if len(report.Output) > 0 {
		out := &store.Dataclip{Type: schema.DataclipStepResult, Body: report.Output}
		if err := o.store.CreateDataclip(ctx, out); err != nil {
			return err
		}
		outputID = out.ID
	}

	finishedAt := o.now()
	if err := o.store.UpdateStep(ctx, stepID, store.StepUpdate{
		ExitReason:       exit,
		ErrorType:        report.ErrorType,
		OutputDataclipID: outputID,
		FinishedAt:       finishedAt,
	}); err != nil {
		return err
	}

	eventType := schema.EventStepCompleted
	if report.RawExitReason == "lost" {
		eventType = schema.EventStepLost
	}
	o.emit(ctx, wo.ID, runID, stepID, eventType, map[string]any{
		"exit_reason": string(exit),
		"error_type":  report.ErrorType,
	})

	// Late report after the run already settled: the step record is kept,
	// but the state machine does not move.
	if run.State.Terminal() {
		logging.LogWith(ctx, o.logger).Warn("completion report for settled run ignored")
		return nil
	}

	if exit == schema.ExitCrash {
		return o.finalizeRun(ctx, wo, run, schema.RunStateCrashed, report.ErrorType)
	}

	fired, err := o.fireEdges(ctx, wo, run, step, exit, report.Output)
	if err != nil {
		return err
	}
	if fired > 0 {
		return nil
	}

	return o.settleIfQuiescent(ctx, wo, run)
}

// --- internals ---

func (o *Orchestrator) findWorkflowWithJob(ctx context.Context, jobID string) (*store.Workflow, error) {
	wfs, err := o.store.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	for _, wf := range wfs {
		if wf.DeletedAt != nil {
			continue
		}
		for _, j := range wf.Graph.Jobs {
			if j.ID == jobID {
				return wf, nil
			}
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", jobID).
		WithDetails(map[string]any{"entity": "job", "job_id": jobID})
}

func (o *Orchestrator) findWorkflowWithTrigger(ctx context.Context, triggerID string) (*store.Workflow, schema.Trigger, error) {
	wfs, err := o.store.ListWorkflows(ctx)
	if err != nil {
		return nil, schema.Trigger{}, err
	}
	for _, wf := range wfs {
		if wf.DeletedAt != nil {
			continue
		}
		for _, t := range wf.Graph.Triggers {
			if t.ID == triggerID {
				return wf, t, nil
			}
		}
	}
	return nil, schema.Trigger{}, schema.NewErrorf(schema.ErrCodeNotFound, "trigger %q not found", triggerID).
		WithDetails(map[string]any{"entity": "trigger", "trigger_id": triggerID})
}

func (o *Orchestrator) createWorkOrder(ctx context.Context, workflowID, triggerID, snapshotID, dataclipID, startingJobID string) (*store.WorkOrder, *store.Run, error) {
	wo := &store.WorkOrder{
		WorkflowID: workflowID,
		TriggerID:  triggerID,
		DataclipID: dataclipID,
		State:      schema.WorkOrderStatePending,
	}
	if err := o.store.CreateWorkOrder(ctx, wo); err != nil {
		return nil, nil, err
	}
	o.emit(ctx, wo.ID, "", "", schema.EventWorkOrderCreated, map[string]any{
		"workflow_id": workflowID,
		"trigger_id":  triggerID,
	})

	run := &store.Run{
		WorkOrderID:       wo.ID,
		SnapshotID:        snapshotID,
		StartingTriggerID: triggerID,
		StartingJobID:     startingJobID,
		DataclipID:        dataclipID,
		State:             schema.RunStatePending,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, nil, err
	}
	return wo, run, nil
}

// beginRun moves a fresh work order and run into running and dispatches the
// first step.
func (o *Orchestrator) beginRun(ctx context.Context, wo *store.WorkOrder, run *store.Run, snap *store.Snapshot, startJob schema.Job, inputDataclipID string) error {
	if err := o.woFSM.Check(wo.ID, wo.State, schema.WorkOrderStateRunning); err != nil {
		return err
	}
	if err := o.store.UpdateWorkOrderState(ctx, wo.ID, schema.WorkOrderStateRunning); err != nil {
		return err
	}
	wo.State = schema.WorkOrderStateRunning

	return o.startRun(ctx, wo, run, snap, startJob, inputDataclipID)
}

func (o *Orchestrator) startRun(ctx context.Context, wo *store.WorkOrder, run *store.Run, snap *store.Snapshot, startJob schema.Job, inputDataclipID string) error {
	ctx = logging.WithRunID(ctx, run.ID)

	if err := o.runFSM.Transition(ctx, wo.ID, run.ID, run.State, schema.RunStateRunning); err != nil {
		return err
	}
	startedAt := o.now()
	running := schema.RunStateRunning
	if err := o.store.UpdateRun(ctx, run.ID, store.RunUpdate{State: &running, StartedAt: &startedAt}); err != nil {
		return err
	}
	run.State = running

	logging.LogWith(ctx, o.logger).Info("run started",
		slog.String("snapshot_id", snap.ID), slog.String("start_job", startJob.ID))

	_, err := o.startStep(ctx, wo, run, startJob, inputDataclipID)
	return err
}

// startStep records a new pending step and hands it to the executor through
// the pool. The hand-off context is detached from the caller: a dispatched
// step is never cancelled by the orchestrator.
func (o *Orchestrator) startStep(ctx context.Context, wo *store.WorkOrder, run *store.Run, job schema.Job, inputDataclipID string) (*store.Step, error) {
	step := &store.Step{
		JobID:           job.ID,
		InputDataclipID: inputDataclipID,
		StartedAt:       o.now(),
	}
	if err := o.store.CreateStep(ctx, run.ID, step); err != nil {
		return nil, err
	}
	o.emit(ctx, wo.ID, run.ID, step.ID, schema.EventStepStarted, map[string]any{
		"job_id":      job.ID,
		"dataclip_id": inputDataclipID,
	})

	input, err := o.store.GetDataclip(ctx, inputDataclipID)
	if err != nil {
		return nil, err
	}

	req := StepRequest{
		RunID:  run.ID,
		StepID: step.ID,
		Job:    job,
		Input:  input.Body,
	}
	if job.CredentialID != "" && o.vault != nil {
		cred, err := o.vault.Resolve(ctx, job.CredentialID)
		if err != nil {
			logging.LogWith(ctx, o.logger).Error("credential resolution failed",
				slog.String("credential_id", job.CredentialID), slog.String("error", err.Error()))
		} else {
			req.Credential = cred
		}
	}

	dispatchCtx := context.WithoutCancel(ctx)
	if err := o.pool.Submit(ctx, func(context.Context) error {
		return o.executor.ExecuteStep(dispatchCtx, req)
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"dispatch step %q: %s", step.ID, err.Error()).WithStep(step.ID).WithCause(err)
	}
	return step, nil
}

// fireEdges evaluates the completed step's outgoing edges against the bound
// snapshot and spawns one follow-up step per firing edge. Ghost and disabled
// targets never fire.
func (o *Orchestrator) fireEdges(ctx context.Context, wo *store.WorkOrder, run *store.Run, step *store.Step, exit schema.ExitReason, output json.RawMessage) (int, error) {
	snap, err := o.store.GetSnapshot(ctx, run.SnapshotID)
	if err != nil {
		return 0, err
	}
	model := graph.New(snap.Graph)
	scope := expressions.NewConditionScope(output).
		WithRun(run.ID, exit).
		WithWorkflow(snap.WorkflowID, snap.Name)

	// The follow-up step consumes this step's output; a step that produced
	// none passes its own input through.
	nextInput := step.InputDataclipID
	if updated, err := o.store.GetStep(ctx, step.ID); err == nil && updated.OutputDataclipID != "" {
		nextInput = updated.OutputDataclipID
	}

	fired := 0
	for _, edge := range model.OutgoingEdgesFromJob(step.JobID) {
		if edge.TargetJobID == "" {
			o.skipEdge(ctx, wo, run, edge, "no_target")
			continue
		}
		target, ok := model.Job(edge.TargetJobID)
		if !ok {
			o.skipEdge(ctx, wo, run, edge, "ghost_target")
			continue
		}
		if !target.Enabled {
			o.skipEdge(ctx, wo, run, edge, "target_disabled")
			continue
		}

		fire, err := o.conditions.ShouldFire(ctx, edge, exit, scope)
		if err != nil {
			// A broken condition is data: the edge does not fire and the
			// run continues on its other branches.
			logging.LogWith(ctx, o.logger).Error("edge condition failed",
				slog.String("edge_id", edge.ID), slog.String("error", err.Error()))
			o.skipEdge(ctx, wo, run, edge, "condition_error")
			continue
		}
		if !fire {
			o.skipEdge(ctx, wo, run, edge, "condition_not_met")
			continue
		}

		o.emit(ctx, wo.ID, run.ID, step.ID, schema.EventEdgeFired, map[string]any{
			"edge_id":    edge.ID,
			"target_job": target.ID,
		})
		if _, err := o.startStep(ctx, wo, run, target, nextInput); err != nil {
			return fired, err
		}
		fired++
	}
	return fired, nil
}

func (o *Orchestrator) skipEdge(ctx context.Context, wo *store.WorkOrder, run *store.Run, edge schema.Edge, reason string) {
	o.emit(ctx, wo.ID, run.ID, "", schema.EventEdgeSkipped, map[string]any{
		"edge_id": edge.ID,
		"reason":  reason,
	})
}

// settleIfQuiescent finalizes the run once no step is awaiting a report.
func (o *Orchestrator) settleIfQuiescent(ctx context.Context, wo *store.WorkOrder, run *store.Run) error {
	steps, err := o.store.ListRunSteps(ctx, run.ID)
	if err != nil {
		return err
	}
	exits := make([]schema.ExitReason, 0, len(steps))
	for _, st := range steps {
		if st.ExitReason == "" {
			return nil // still in flight
		}
		exits = append(exits, st.ExitReason)
	}
	return o.finalizeRun(ctx, wo, run, schema.RunStateForExits(exits), "")
}

func (o *Orchestrator) finalizeRun(ctx context.Context, wo *store.WorkOrder, run *store.Run, state schema.RunState, errorType string) error {
	if err := o.runFSM.Transition(ctx, wo.ID, run.ID, run.State, state); err != nil {
		return err
	}
	finishedAt := o.now()
	if err := o.store.UpdateRun(ctx, run.ID, store.RunUpdate{
		State:      &state,
		ErrorType:  errorType,
		FinishedAt: &finishedAt,
	}); err != nil {
		return err
	}
	run.State = state

	woState := schema.WorkOrderStateFailed
	if state == schema.RunStateSuccess {
		woState = schema.WorkOrderStateSuccess
	}
	if err := o.woFSM.Check(wo.ID, wo.State, woState); err != nil {
		return err
	}
	if err := o.store.UpdateWorkOrderState(ctx, wo.ID, woState); err != nil {
		return err
	}
	wo.State = woState

	logging.LogWith(ctx, o.logger).Info("run settled", slog.String("state", string(state)))
	return nil
}

// emit appends a log event; event failures are logged, never fatal to the
// operation that produced them.
func (o *Orchestrator) emit(ctx context.Context, workOrderID, runID, stepID, eventType string, payload map[string]any) {
	raw, _ := json.Marshal(payload)
	event := &store.Event{
		WorkOrderID: workOrderID,
		RunID:       runID,
		StepID:      stepID,
		Type:        eventType,
		Payload:     raw,
	}
	if err := o.store.AppendEvent(ctx, event); err != nil {
		logging.LogWith(ctx, o.logger).Error("append event failed",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
	if o.hub != nil {
		_ = o.hub.Publish(ctx, streaming.StreamEvent{
			WorkOrderID: workOrderID,
			RunID:       runID,
			StepID:      stepID,
			EventType:   eventType,
			Payload:     payload,
		})
	}
}

func (o *Orchestrator) stepInRun(ctx context.Context, runID, stepID string) (*store.Step, error) {
	steps, err := o.store.ListRunSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, st := range steps {
		if st.ID == stepID {
			return st, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound,
		"step %q not part of run %q", stepID, runID).
		WithDetails(map[string]any{"entity": "step", "run_id": runID, "step_id": stepID})
}
