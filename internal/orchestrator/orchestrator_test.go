package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomery/loom/internal/expressions"
	"github.com/loomery/loom/internal/store"
	"github.com/loomery/loom/internal/streaming"
	"github.com/loomery/loom/pkg/schema"
)

// captureExecutor records dispatched steps; tests drive completion manually
// through OnStepComplete, mirroring the asynchronous executor contract.
type captureExecutor struct {
	mu       sync.Mutex
	requests []StepRequest
}

func (c *captureExecutor) ExecuteStep(_ context.Context, req StepRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return nil
}

func (c *captureExecutor) all() []StepRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StepRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

func (c *captureExecutor) last() StepRequest {
	reqs := c.all()
	return reqs[len(reqs)-1]
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.LibSQLStore, *captureExecutor) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	exec := &captureExecutor{}
	conditions := expressions.NewConditionEvaluator(expressions.NewExprEngine())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := New(s, exec, nil, conditions, logger, Config{PoolSize: 4})
	t.Cleanup(o.Shutdown)
	return o, s, exec
}

// chainGraph is a webhook trigger feeding job A, with A -> B on success and
// A -> C on failure.
func chainGraph() schema.Graph {
	return schema.Graph{
		Jobs: []schema.Job{
			{ID: "job-a", Name: "extract", Enabled: true},
			{ID: "job-b", Name: "load", Enabled: true},
			{ID: "job-c", Name: "notify-failure", Enabled: true},
		},
		Triggers: []schema.Trigger{
			{ID: "trig-1", Type: schema.TriggerTypeWebhook, Enabled: true},
		},
		Edges: []schema.Edge{
			{ID: "edge-t", SourceTriggerID: "trig-1", TargetJobID: "job-a", ConditionType: schema.ConditionAlways, Enabled: true},
			{ID: "edge-ab", SourceJobID: "job-a", TargetJobID: "job-b", ConditionType: schema.ConditionOnSuccess, Enabled: true},
			{ID: "edge-ac", SourceJobID: "job-a", TargetJobID: "job-c", ConditionType: schema.ConditionOnFailure, Enabled: true},
		},
	}
}

func seedChainWorkflow(t *testing.T, s *store.LibSQLStore) *store.Workflow {
	t.Helper()
	wf := &store.Workflow{ID: uuid.NewString(), Name: "pipeline", Graph: chainGraph()}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

// --- Starting runs ---

func TestStartRunFromTrigger_SuccessPath(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	seedChainWorkflow(t, s)

	res, err := o.StartRunFromTrigger(ctx, "trig-1", "")
	require.NoError(t, err)
	o.pool.Wait()

	// First step executes job A.
	reqs := exec.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "job-a", reqs[0].Job.ID)

	require.NoError(t, o.OnStepComplete(ctx, res.RunID, reqs[0].StepID, CompletionReport{
		RawExitReason: "success",
		Output:        json.RawMessage(`{"rows": 10}`),
	}))
	o.pool.Wait()

	// on_success fired job B; its input is A's output.
	reqs = exec.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, "job-b", reqs[1].Job.ID)
	assert.JSONEq(t, `{"rows": 10}`, string(reqs[1].Input))

	require.NoError(t, o.OnStepComplete(ctx, res.RunID, reqs[1].StepID, CompletionReport{RawExitReason: "success"}))
	o.pool.Wait()

	run, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStateSuccess, run.State)
	assert.NotNil(t, run.FinishedAt)

	wo, err := s.GetWorkOrder(ctx, res.WorkOrderID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkOrderStateSuccess, wo.State)

	// C never ran: the failure branch stayed cold.
	steps, err := s.ListRunSteps(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "job-a", steps[0].JobID)
	assert.Equal(t, "job-b", steps[1].JobID)
}

func TestStartRunFromTrigger_RecordsTriggerStart(t *testing.T) {
	o, s, _ := newTestOrchestrator(t)
	ctx := context.Background()
	seedChainWorkflow(t, s)

	res, err := o.StartRunFromTrigger(ctx, "trig-1", "")
	require.NoError(t, err)
	o.pool.Wait()

	run, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "trig-1", run.StartingTriggerID)
	assert.Empty(t, run.StartingJobID)
	assert.NotEmpty(t, run.SnapshotID)

	// A default empty dataclip was synthesized.
	dc, err := s.GetDataclip(ctx, run.DataclipID)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(dc.Body))
}

func TestStartRunFromTrigger_TriggerNotFound(t *testing.T) {
	o, s, _ := newTestOrchestrator(t)
	seedChainWorkflow(t, s)

	_, err := o.StartRunFromTrigger(context.Background(), "trig-missing", "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestStartRunFromTrigger_NoConnectedJob(t *testing.T) {
	o, s, _ := newTestOrchestrator(t)
	ctx := context.Background()

	g := chainGraph()
	g.Triggers = append(g.Triggers, schema.Trigger{ID: "trig-dangling", Type: schema.TriggerTypeWebhook, Enabled: true})
	wf := &store.Workflow{ID: uuid.NewString(), Name: "dangling", Graph: g}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	_, err := o.StartRunFromTrigger(ctx, "trig-dangling", "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNoConnectedJob, schema.CodeOf(err))
}

func TestStartRunFromTrigger_WipedDataclipRejected(t *testing.T) {
	o, s, _ := newTestOrchestrator(t)
	ctx := context.Background()
	seedChainWorkflow(t, s)

	dc := &store.Dataclip{Type: schema.DataclipHTTPRequest, Body: json.RawMessage(`{"x":1}`)}
	require.NoError(t, s.CreateDataclip(ctx, dc))
	require.NoError(t, s.WipeDataclip(ctx, dc.ID))

	_, err := o.StartRunFromTrigger(ctx, "trig-1", dc.ID)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDataclipWiped, schema.CodeOf(err))
}

func TestStartRunFromJob_Manual(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	seedChainWorkflow(t, s)

	res, err := o.StartRunFromJob(ctx, "job-b", json.RawMessage(`{"data":"test"}`))
	require.NoError(t, err)
	o.pool.Wait()

	run, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Empty(t, run.StartingTriggerID)
	assert.Equal(t, "job-b", run.StartingJobID)

	wo, err := s.GetWorkOrder(ctx, res.WorkOrderID)
	require.NoError(t, err)
	assert.Empty(t, wo.TriggerID)

	steps, err := s.ListRunSteps(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "job-b", steps[0].JobID)

	require.NotNil(t, res.Dataclip)
	assert.JSONEq(t, `{"data":"test"}`, string(res.Dataclip.Body))
	assert.JSONEq(t, `{"data":"test"}`, string(exec.last().Input))
}

func TestStartRunFromJob_EmptyPayloadSynthesized(t *testing.T) {
	o, s, _ := newTestOrchestrator(t)
	ctx := context.Background()
	seedChainWorkflow(t, s)

	res, err := o.StartRunFromJob(ctx, "job-a", nil)
	require.NoError(t, err)
	o.pool.Wait()

	require.NotNil(t, res.Dataclip)
	assert.JSONEq(t, `{}`, string(res.Dataclip.Body))
}

func TestStartRunFromJob_JobNotFound(t *testing.T) {
	o, s, _ := newTestOrchestrator(t)
	seedChainWorkflow(t, s)

	_, err := o.StartRunFromJob(context.Background(), "job-missing", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

// --- Completion and edge firing ---

func startChainRun(t *testing.T, o *Orchestrator, s *store.LibSQLStore, exec *captureExecutor) *StartResult {
	t.Helper()
	seedChainWorkflow(t, s)
	res, err := o.StartRunFromTrigger(context.Background(), "trig-1", "")
	require.NoError(t, err)
	o.pool.Wait()
	require.Len(t, exec.all(), 1)
	return res
}

func TestOnStepComplete_FailureTakesFailureBranch(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	res := startChainRun(t, o, s, exec)

	stepA := exec.last().StepID
	require.NoError(t, o.OnStepComplete(ctx, res.RunID, stepA, CompletionReport{
		RawExitReason: "fail",
		ErrorType:     "AdaptorError",
	}))
	o.pool.Wait()

	// on_failure fired C; on_success did not fire B.
	reqs := exec.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, "job-c", reqs[1].Job.ID)

	require.NoError(t, o.OnStepComplete(ctx, res.RunID, reqs[1].StepID, CompletionReport{RawExitReason: "success"}))
	o.pool.Wait()

	run, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStateFailed, run.State)

	wo, err := s.GetWorkOrder(ctx, res.WorkOrderID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkOrderStateFailed, wo.State)
}

func TestOnStepComplete_CrashTerminatesRun(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	res := startChainRun(t, o, s, exec)

	require.NoError(t, o.OnStepComplete(ctx, res.RunID, exec.last().StepID, CompletionReport{
		RawExitReason: "exception",
		ErrorType:     "RuntimeCrash",
	}))
	o.pool.Wait()

	// No edges evaluated after a crash.
	assert.Len(t, exec.all(), 1)

	run, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStateCrashed, run.State)
	assert.Equal(t, "RuntimeCrash", run.ErrorType)

	wo, err := s.GetWorkOrder(ctx, res.WorkOrderID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkOrderStateFailed, wo.State)
}

func TestOnStepComplete_UnknownExitDowngradesToFail(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	res := startChainRun(t, o, s, exec)

	stepA := exec.last().StepID
	require.NoError(t, o.OnStepComplete(ctx, res.RunID, stepA, CompletionReport{RawExitReason: "weird-new-reason"}))
	o.pool.Wait()

	got, err := s.GetStep(ctx, stepA)
	require.NoError(t, err)
	assert.Equal(t, schema.ExitFail, got.ExitReason)

	// Downgrade behaves exactly like fail: the failure branch fires.
	reqs := exec.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, "job-c", reqs[1].Job.ID)
}

func TestOnStepComplete_EmptyExitRejected(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	res := startChainRun(t, o, s, exec)

	err := o.OnStepComplete(context.Background(), res.RunID, exec.last().StepID, CompletionReport{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestOnStepComplete_DuplicateReportRejected(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	res := startChainRun(t, o, s, exec)
	stepA := exec.last().StepID

	require.NoError(t, o.OnStepComplete(ctx, res.RunID, stepA, CompletionReport{RawExitReason: "success"}))
	err := o.OnStepComplete(ctx, res.RunID, stepA, CompletionReport{RawExitReason: "fail"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestOnStepComplete_GhostTargetSkipped(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()

	g := chainGraph()
	// Point the success edge at a job that does not exist in the snapshot.
	g.Edges[1].TargetJobID = "job-gone"
	wf := &store.Workflow{ID: uuid.NewString(), Name: "ghosted", Graph: g}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	res, err := o.StartRunFromTrigger(ctx, "trig-1", "")
	require.NoError(t, err)
	o.pool.Wait()

	require.NoError(t, o.OnStepComplete(ctx, res.RunID, exec.last().StepID, CompletionReport{RawExitReason: "success"}))
	o.pool.Wait()

	// The ghost edge never fired; the run settled with just step A.
	assert.Len(t, exec.all(), 1)
	run, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStateSuccess, run.State)
}

func TestOnStepComplete_ExpressionEdge(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()

	g := chainGraph()
	g.Edges[1].ConditionType = schema.ConditionJSExpression
	g.Edges[1].ConditionExpression = "rows > 5"
	wf := &store.Workflow{ID: uuid.NewString(), Name: "conditional", Graph: g}
	require.NoError(t, s.CreateWorkflow(ctx, wf))

	res, err := o.StartRunFromTrigger(ctx, "trig-1", "")
	require.NoError(t, err)
	o.pool.Wait()

	require.NoError(t, o.OnStepComplete(ctx, res.RunID, exec.last().StepID, CompletionReport{
		RawExitReason: "success",
		Output:        json.RawMessage(`{"rows": 3}`),
	}))
	o.pool.Wait()

	// rows=3 does not satisfy the condition: B never fires, run settles.
	assert.Len(t, exec.all(), 1)
	run, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStateSuccess, run.State)
}

// --- GetStep ---

func TestGetStep(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	res := startChainRun(t, o, s, exec)

	step, err := o.GetStep(ctx, res.RunID, "job-a")
	require.NoError(t, err)
	assert.Equal(t, exec.last().StepID, step.ID)

	_, err = o.GetStep(ctx, res.RunID, "job-b")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

// --- Retry ---

func failChainRun(t *testing.T, o *Orchestrator, s *store.LibSQLStore, exec *captureExecutor) (*StartResult, string) {
	t.Helper()
	ctx := context.Background()
	res := startChainRun(t, o, s, exec)
	stepA := exec.last().StepID
	require.NoError(t, o.OnStepComplete(ctx, res.RunID, stepA, CompletionReport{RawExitReason: "fail"}))
	o.pool.Wait()
	// Complete the failure-branch step so the run settles.
	require.NoError(t, o.OnStepComplete(ctx, res.RunID, exec.last().StepID, CompletionReport{RawExitReason: "success"}))
	o.pool.Wait()
	return res, stepA
}

func TestRetryRun(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	res, stepA := failChainRun(t, o, s, exec)

	original, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	require.Equal(t, schema.RunStateFailed, original.State)

	retry, err := o.RetryRun(ctx, res.RunID, stepA)
	require.NoError(t, err)
	o.pool.Wait()

	assert.Equal(t, res.WorkOrderID, retry.WorkOrderID)
	assert.NotEqual(t, res.RunID, retry.RunID)

	newRun, err := s.GetRun(ctx, retry.RunID)
	require.NoError(t, err)
	assert.Equal(t, "job-a", newRun.StartingJobID)
	assert.NotEqual(t, original.SnapshotID, newRun.SnapshotID)

	// The retry consumes the failed step's input dataclip.
	origStep, err := s.GetStep(ctx, stepA)
	require.NoError(t, err)
	assert.Equal(t, origStep.InputDataclipID, newRun.DataclipID)

	// The original run's record is untouched.
	after, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStateFailed, after.State)

	assert.Equal(t, "job-a", exec.last().Job.ID)
}

func TestRetryRun_PicksUpGraphEdits(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	res, stepA := failChainRun(t, o, s, exec)

	run, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	wo, err := s.GetWorkOrder(ctx, run.WorkOrderID)
	require.NoError(t, err)

	// Edit the workflow after the failure.
	g := chainGraph()
	g.Jobs[0].Name = "extract-v2"
	_, err = s.SaveWorkflow(ctx, wo.WorkflowID, schema.WorkflowPayload{Name: "pipeline", Graph: g}, 0)
	require.NoError(t, err)

	retry, err := o.RetryRun(ctx, res.RunID, stepA)
	require.NoError(t, err)
	o.pool.Wait()

	newRun, err := s.GetRun(ctx, retry.RunID)
	require.NoError(t, err)
	snap, err := s.GetSnapshot(ctx, newRun.SnapshotID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap.LockVersion)
	assert.Equal(t, "extract-v2", snap.Graph.Jobs[0].Name)
}

func TestRetryRun_MissingStepID(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	res, _ := failChainRun(t, o, s, exec)

	_, err := o.RetryRun(context.Background(), res.RunID, "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeMissingStepID, schema.CodeOf(err))
}

func TestRetryRun_RunNotFound(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	_, err := o.RetryRun(context.Background(), "run-missing", "step-1")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestRetryRun_WipedDataclip(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	res, stepA := failChainRun(t, o, s, exec)

	step, err := s.GetStep(ctx, stepA)
	require.NoError(t, err)
	require.NoError(t, s.WipeDataclip(ctx, step.InputDataclipID))

	_, err = o.RetryRun(ctx, res.RunID, stepA)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDataclipWiped, schema.CodeOf(err))

	// No new run was created.
	runs, err := s.ListWorkOrderRuns(ctx, res.WorkOrderID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRetryRun_DeletedWorkflow(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	res, stepA := failChainRun(t, o, s, exec)

	run, err := s.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	wo, err := s.GetWorkOrder(ctx, run.WorkOrderID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteWorkflow(ctx, wo.WorkflowID))

	_, err = o.RetryRun(ctx, res.RunID, stepA)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeWorkflowDeleted, schema.CodeOf(err))
}

// --- Event log ---

func TestRunEmitsEventTrail(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	res := startChainRun(t, o, s, exec)

	require.NoError(t, o.OnStepComplete(ctx, res.RunID, exec.last().StepID, CompletionReport{RawExitReason: "success"}))
	o.pool.Wait()
	require.NoError(t, o.OnStepComplete(ctx, res.RunID, exec.last().StepID, CompletionReport{RawExitReason: "success"}))
	o.pool.Wait()

	events, err := s.GetEvents(ctx, res.WorkOrderID, 0)
	require.NoError(t, err)

	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, schema.EventWorkOrderCreated)
	assert.Contains(t, types, schema.EventRunStarted)
	assert.Contains(t, types, schema.EventStepStarted)
	assert.Contains(t, types, schema.EventStepCompleted)
	assert.Contains(t, types, schema.EventEdgeFired)
	assert.Contains(t, types, schema.EventEdgeSkipped)
	assert.Contains(t, types, schema.EventRunCompleted)
}

// --- Live event streaming ---

func TestEventsStreamToHub(t *testing.T) {
	o, s, exec := newTestOrchestrator(t)
	ctx := context.Background()
	seedChainWorkflow(t, s)

	hub := streaming.NewMemoryHub()
	o.UseEvents(hub)
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{schema.EventStepCompleted, schema.EventRunCompleted},
	})
	require.NoError(t, err)
	defer cancel()

	res, err := o.StartRunFromTrigger(ctx, "trig-1", "")
	require.NoError(t, err)
	o.pool.Wait()

	reqs := exec.all()
	require.Len(t, reqs, 1)
	require.NoError(t, o.OnStepComplete(ctx, res.RunID, reqs[0].StepID, CompletionReport{RawExitReason: "success"}))
	o.pool.Wait()
	require.NoError(t, o.OnStepComplete(ctx, res.RunID, exec.last().StepID, CompletionReport{RawExitReason: "success"}))
	o.pool.Wait()

	var types []string
	for len(ch) > 0 {
		ev := <-ch
		assert.Equal(t, res.WorkOrderID, ev.WorkOrderID)
		types = append(types, ev.EventType)
	}
	assert.Contains(t, types, schema.EventStepCompleted)
	assert.Contains(t, types, schema.EventRunCompleted)
}
