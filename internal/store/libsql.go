package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/loomery/loom/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	graph, err := json.Marshal(wf.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, lock_version, graph, positions, deleted_at, inserted_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, nullStr(wf.Name), wf.LockVersion, string(graph), nullRaw(wf.Positions),
		nullTime(wf.DeletedAt), timeOrNow(wf.InsertedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, lock_version, graph, positions, deleted_at, inserted_at, updated_at
		 FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row, id)
}

func scanWorkflow(row *sql.Row, id string) (*Workflow, error) {
	wf := &Workflow{}
	var name, positions sql.NullString
	var graphJSON string
	var deletedAt sql.NullTime
	err := row.Scan(&wf.ID, &name, &wf.LockVersion, &graphJSON, &positions, &deletedAt, &wf.InsertedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	wf.Name = name.String
	if err := json.Unmarshal([]byte(graphJSON), &wf.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	wf.Positions = rawOrNil(positions)
	if deletedAt.Valid {
		wf.DeletedAt = &deletedAt.Time
	}
	return wf, nil
}

// SaveWorkflow commits a new graph under optimistic concurrency. The UPDATE
// carries the expected lock version in its WHERE clause, so the check and the
// increment are one atomic statement.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, id string, payload schema.WorkflowPayload, expectedLockVersion int64) (*SaveResult, error) {
	graph, err := json.Marshal(payload.Graph)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var deletedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT deleted_at FROM workflows WHERE id = ?`, id).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		return nil, schema.NewErrorf(schema.ErrCodeWorkflowDeleted, "workflow %q is deleted", id)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE workflows
		 SET name = ?, graph = ?, positions = ?, lock_version = lock_version + 1, updated_at = ?
		 WHERE id = ? AND lock_version = ?`,
		nullStr(payload.Name), string(graph), nullRaw(payload.Positions), now, id, expectedLockVersion,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeVersionConflict,
			"workflow %q was saved by someone else (expected lock_version %d)", id, expectedLockVersion).
			WithDetails(map[string]any{"workflow_id": id, "expected_lock_version": expectedLockVersion})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save: %w", err)
	}
	return &SaveResult{LockVersion: expectedLockVersion + 1, SavedAt: now}, nil
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish already-deleted (idempotent) from missing.
		var dummy string
		err := s.db.QueryRowContext(ctx, `SELECT id FROM workflows WHERE id = ?`, id).Scan(&dummy)
		if err == sql.ErrNoRows {
			return storeNotFound("workflow", id)
		}
		return err
	}
	return nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, lock_version, graph, positions, deleted_at, inserted_at, updated_at
		 FROM workflows WHERE deleted_at IS NULL ORDER BY inserted_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf := &Workflow{}
		var name, positions sql.NullString
		var graphJSON string
		var deletedAt sql.NullTime
		if err := rows.Scan(&wf.ID, &name, &wf.LockVersion, &graphJSON, &positions, &deletedAt, &wf.InsertedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		wf.Name = name.String
		if err := json.Unmarshal([]byte(graphJSON), &wf.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal graph: %w", err)
		}
		wf.Positions = rawOrNil(positions)
		if deletedAt.Valid {
			wf.DeletedAt = &deletedAt.Time
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// --- Snapshots ---

// CreateSnapshot materializes an immutable copy of the workflow's current
// graph. Reading the workflow row and inserting the snapshot happen in one
// transaction, so a save committed mid-snapshot cannot produce a torn copy.
// A snapshot already taken at the current lock version is reused.
func (s *LibSQLStore) CreateSnapshot(ctx context.Context, workflowID string) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var name sql.NullString
	var lockVersion int64
	var graphJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT name, lock_version, graph FROM workflows WHERE id = ?`, workflowID,
	).Scan(&name, &lockVersion, &graphJSON)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", workflowID)
	}
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		WorkflowID:  workflowID,
		Name:        name.String,
		LockVersion: lockVersion,
	}
	if err := json.Unmarshal([]byte(graphJSON), &snap.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}

	// Reuse an existing snapshot at this version, if any.
	var existingID string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM snapshots WHERE workflow_id = ? AND lock_version = ?`,
		workflowID, lockVersion,
	).Scan(&existingID, &createdAt)
	switch {
	case err == nil:
		snap.ID = existingID
		snap.CreatedAt = createdAt
	case err == sql.ErrNoRows:
		snap.ID = uuid.NewString()
		snap.CreatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (id, workflow_id, name, lock_version, graph, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			snap.ID, workflowID, nullStr(snap.Name), lockVersion, graphJSON, snap.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("insert snapshot: %w", err)
		}
	default:
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	return snap, nil
}

func (s *LibSQLStore) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	snap := &Snapshot{}
	var name sql.NullString
	var graphJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, name, lock_version, graph, created_at FROM snapshots WHERE id = ?`, id,
	).Scan(&snap.ID, &snap.WorkflowID, &name, &snap.LockVersion, &graphJSON, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("snapshot", id)
	}
	if err != nil {
		return nil, err
	}
	snap.Name = name.String
	if err := json.Unmarshal([]byte(graphJSON), &snap.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return snap, nil
}

// --- Work orders ---

func (s *LibSQLStore) CreateWorkOrder(ctx context.Context, wo *WorkOrder) error {
	if wo.ID == "" {
		wo.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_orders (id, workflow_id, trigger_id, dataclip_id, state, inserted_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		wo.ID, wo.WorkflowID, nullStr(wo.TriggerID), wo.DataclipID, string(wo.State),
		timeOrNow(wo.InsertedAt), timeOrNow(wo.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkOrder(ctx context.Context, id string) (*WorkOrder, error) {
	wo := &WorkOrder{}
	var triggerID sql.NullString
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, trigger_id, dataclip_id, state, inserted_at, updated_at
		 FROM work_orders WHERE id = ?`, id,
	).Scan(&wo.ID, &wo.WorkflowID, &triggerID, &wo.DataclipID, &state, &wo.InsertedAt, &wo.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("work_order", id)
	}
	if err != nil {
		return nil, err
	}
	wo.TriggerID = triggerID.String
	wo.State = schema.WorkOrderState(state)
	return wo, nil
}

func (s *LibSQLStore) UpdateWorkOrderState(ctx context.Context, id string, state schema.WorkOrderState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE work_orders SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(state), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "work_order", id)
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, work_order_id, snapshot_id, starting_trigger_id, starting_job_id, dataclip_id, state, error_type, inserted_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkOrderID, run.SnapshotID, nullStr(run.StartingTriggerID), nullStr(run.StartingJobID),
		run.DataclipID, string(run.State), nullStr(run.ErrorType),
		timeOrNow(run.InsertedAt), nullTime(run.StartedAt), nullTime(run.FinishedAt),
	)
	return err
}

// CreateRetryRun inserts a retry run, re-checking the wipe and deletion
// preconditions inside the transaction. The request-time check alone is not
// enough: a wipe racing the retry must lose.
func (s *LibSQLStore) CreateRetryRun(ctx context.Context, run *Run, workflowID string) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var deletedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT deleted_at FROM workflows WHERE id = ?`, workflowID).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return storeNotFound("workflow", workflowID)
	}
	if err != nil {
		return err
	}
	if deletedAt.Valid {
		return schema.NewErrorf(schema.ErrCodeWorkflowDeleted, "workflow %q is deleted", workflowID)
	}

	var wipedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT wiped_at FROM dataclips WHERE id = ?`, run.DataclipID).Scan(&wipedAt)
	if err == sql.ErrNoRows {
		return storeNotFound("dataclip", run.DataclipID)
	}
	if err != nil {
		return err
	}
	if wipedAt.Valid {
		return schema.NewErrorf(schema.ErrCodeDataclipWiped, "dataclip %q has been wiped", run.DataclipID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, work_order_id, snapshot_id, starting_trigger_id, starting_job_id, dataclip_id, state, error_type, inserted_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkOrderID, run.SnapshotID, nullStr(run.StartingTriggerID), nullStr(run.StartingJobID),
		run.DataclipID, string(run.State), nullStr(run.ErrorType),
		timeOrNow(run.InsertedAt), nullTime(run.StartedAt), nullTime(run.FinishedAt),
	); err != nil {
		return fmt.Errorf("insert retry run: %w", err)
	}

	return tx.Commit()
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var startTrigger, startJob, errorType sql.NullString
	var state string
	var startedAt, finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, work_order_id, snapshot_id, starting_trigger_id, starting_job_id, dataclip_id, state, error_type, inserted_at, started_at, finished_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.WorkOrderID, &run.SnapshotID, &startTrigger, &startJob,
		&run.DataclipID, &state, &errorType, &run.InsertedAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.StartingTriggerID = startTrigger.String
	run.StartingJobID = startJob.String
	run.State = schema.RunState(state)
	run.ErrorType = errorType.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, string(*update.State))
	}
	if update.ErrorType != "" {
		sets = append(sets, "error_type = ?")
		args = append(args, update.ErrorType)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListWorkOrderRuns(ctx context.Context, workOrderID string) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, work_order_id, snapshot_id, starting_trigger_id, starting_job_id, dataclip_id, state, error_type, inserted_at, started_at, finished_at
		 FROM runs WHERE work_order_id = ? ORDER BY inserted_at ASC, rowid ASC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var startTrigger, startJob, errorType sql.NullString
		var state string
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.WorkOrderID, &run.SnapshotID, &startTrigger, &startJob,
			&run.DataclipID, &state, &errorType, &run.InsertedAt, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		run.StartingTriggerID = startTrigger.String
		run.StartingJobID = startJob.String
		run.State = schema.RunState(state)
		run.ErrorType = errorType.String
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Steps ---

func (s *LibSQLStore) CreateStep(ctx context.Context, runID string, step *Step) error {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO steps (id, job_id, input_dataclip_id, output_dataclip_id, exit_reason, error_type, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.JobID, step.InputDataclipID, nullStr(step.OutputDataclipID),
		nullStr(string(step.ExitReason)), nullStr(step.ErrorType),
		timeOrNow(step.StartedAt), nullTime(step.FinishedAt),
	); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, step_id) VALUES (?, ?)`, runID, step.ID,
	); err != nil {
		return fmt.Errorf("link step to run: %w", err)
	}

	return tx.Commit()
}

// AttachStep links an existing step to an additional run (replay).
func (s *LibSQLStore) AttachStep(ctx context.Context, runID, stepID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_steps (run_id, step_id) VALUES (?, ?)`, runID, stepID)
	return err
}

func (s *LibSQLStore) GetStep(ctx context.Context, id string) (*Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, input_dataclip_id, output_dataclip_id, exit_reason, error_type, started_at, finished_at
		 FROM steps WHERE id = ?`, id)
	return scanStep(row, id)
}

// GetStepForJob returns the most recent step for a job within a run.
func (s *LibSQLStore) GetStepForJob(ctx context.Context, runID, jobID string) (*Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT s.id, s.job_id, s.input_dataclip_id, s.output_dataclip_id, s.exit_reason, s.error_type, s.started_at, s.finished_at
		 FROM steps s JOIN run_steps rs ON rs.step_id = s.id
		 WHERE rs.run_id = ? AND s.job_id = ?
		 ORDER BY s.started_at DESC, s.rowid DESC LIMIT 1`, runID, jobID)
	return scanStep(row, runID+"/"+jobID)
}

func scanStep(row *sql.Row, id string) (*Step, error) {
	st := &Step{}
	var outputID, exitReason, errorType sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(&st.ID, &st.JobID, &st.InputDataclipID, &outputID, &exitReason, &errorType, &st.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("step", id)
	}
	if err != nil {
		return nil, err
	}
	st.OutputDataclipID = outputID.String
	st.ExitReason = schema.ExitReason(exitReason.String)
	st.ErrorType = errorType.String
	if finishedAt.Valid {
		st.FinishedAt = &finishedAt.Time
	}
	return st, nil
}

func (s *LibSQLStore) UpdateStep(ctx context.Context, id string, update StepUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET exit_reason = ?, error_type = ?, output_dataclip_id = ?, finished_at = ?
		 WHERE id = ?`,
		string(update.ExitReason), nullStr(update.ErrorType), nullStr(update.OutputDataclipID),
		update.FinishedAt, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "step", id)
}

// ListRunSteps returns a run's steps ordered by started_at, ties broken by
// insertion order.
func (s *LibSQLStore) ListRunSteps(ctx context.Context, runID string) ([]*Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.job_id, s.input_dataclip_id, s.output_dataclip_id, s.exit_reason, s.error_type, s.started_at, s.finished_at
		 FROM steps s JOIN run_steps rs ON rs.step_id = s.id
		 WHERE rs.run_id = ?
		 ORDER BY s.started_at ASC, s.rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*Step
	for rows.Next() {
		st := &Step{}
		var outputID, exitReason, errorType sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(&st.ID, &st.JobID, &st.InputDataclipID, &outputID, &exitReason, &errorType, &st.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		st.OutputDataclipID = outputID.String
		st.ExitReason = schema.ExitReason(exitReason.String)
		st.ErrorType = errorType.String
		if finishedAt.Valid {
			st.FinishedAt = &finishedAt.Time
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// ListInFlightSteps returns steps of non-terminal runs that are still awaiting
// a completion report and started at or before the cutoff.
func (s *LibSQLStore) ListInFlightSteps(ctx context.Context, cutoff time.Time) ([]*InFlightStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rs.run_id, s.id, s.job_id, s.started_at
		 FROM steps s
		 JOIN run_steps rs ON rs.step_id = s.id
		 JOIN runs r ON r.id = rs.run_id
		 WHERE s.exit_reason IS NULL AND s.started_at <= ?
		   AND r.state IN ('pending', 'running')
		 ORDER BY s.started_at ASC, s.rowid ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*InFlightStep
	for rows.Next() {
		ifs := &InFlightStep{}
		if err := rows.Scan(&ifs.RunID, &ifs.StepID, &ifs.JobID, &ifs.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, ifs)
	}
	return out, rows.Err()
}

// --- Dataclips ---

func (s *LibSQLStore) CreateDataclip(ctx context.Context, dc *Dataclip) error {
	if dc.ID == "" {
		dc.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dataclips (id, project_id, type, body, name, wiped_at, inserted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dc.ID, nullStr(dc.ProjectID), string(dc.Type), nullRaw(dc.Body), nullStr(dc.Name),
		nullTime(dc.WipedAt), timeOrNow(dc.InsertedAt),
	)
	return err
}

func (s *LibSQLStore) GetDataclip(ctx context.Context, id string) (*Dataclip, error) {
	dc := &Dataclip{}
	var projectID, body, name sql.NullString
	var dcType string
	var wipedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, type, body, name, wiped_at, inserted_at FROM dataclips WHERE id = ?`, id,
	).Scan(&dc.ID, &projectID, &dcType, &body, &name, &wipedAt, &dc.InsertedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("dataclip", id)
	}
	if err != nil {
		return nil, err
	}
	dc.ProjectID = projectID.String
	dc.Type = schema.DataclipType(dcType)
	dc.Body = rawOrNil(body)
	dc.Name = name.String
	if wipedAt.Valid {
		dc.WipedAt = &wipedAt.Time
		dc.Body = nil
	}
	return dc, nil
}

// WipeDataclip erases the body and marks the wipe time in one statement, so a
// racing read sees either the prior body or the wiped state, never a torn
// body. Wiping an already-wiped dataclip is a no-op.
func (s *LibSQLStore) WipeDataclip(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dataclips SET body = NULL, wiped_at = CURRENT_TIMESTAMP WHERE id = ? AND wiped_at IS NULL`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var dummy string
		err := s.db.QueryRowContext(ctx, `SELECT id FROM dataclips WHERE id = ?`, id).Scan(&dummy)
		if err == sql.ErrNoRows {
			return storeNotFound("dataclip", id)
		}
		return err
	}
	return nil
}

// --- Credentials ---

func (s *LibSQLStore) StoreCredential(ctx context.Context, cred *Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, name, body, inserted_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, body=excluded.body, updated_at=CURRENT_TIMESTAMP`,
		cred.ID, cred.Name, cred.Body, timeOrNow(cred.InsertedAt), timeOrNow(cred.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	cred := &Credential{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, body, inserted_at, updated_at FROM credentials WHERE id = ?`, id,
	).Scan(&cred.ID, &cred.Name, &cred.Body, &cred.InsertedAt, &cred.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("credential", id)
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

func (s *LibSQLStore) DeleteCredential(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "credential", id)
}

func (s *LibSQLStore) ListCredentials(ctx context.Context) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, body, inserted_at, updated_at FROM credentials ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		cred := &Credential{}
		if err := rows.Scan(&cred.ID, &cred.Name, &cred.Body, &cred.InsertedAt, &cred.UpdatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// --- Cron schedules ---

// SyncCronSchedules reconciles the stored schedules for a workflow with the
// given set: missing rows are removed, existing rows keep their run
// timestamps, new rows are inserted.
func (s *LibSQLStore) SyncCronSchedules(ctx context.Context, workflowID string, schedules []CronSchedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	keep := make([]any, 0, len(schedules)+1)
	keep = append(keep, workflowID)
	placeholders := make([]string, 0, len(schedules))
	for _, sc := range schedules {
		keep = append(keep, sc.TriggerID)
		placeholders = append(placeholders, "?")
	}
	del := `DELETE FROM cron_schedules WHERE workflow_id = ?`
	if len(placeholders) > 0 {
		del += ` AND trigger_id NOT IN (` + strings.Join(placeholders, ", ") + `)`
	}
	if _, err := tx.ExecContext(ctx, del, keep...); err != nil {
		return fmt.Errorf("prune cron schedules: %w", err)
	}

	for _, sc := range schedules {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cron_schedules (trigger_id, workflow_id, cron_expression, enabled, next_run_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(trigger_id) DO UPDATE SET
			   workflow_id=excluded.workflow_id, cron_expression=excluded.cron_expression, enabled=excluded.enabled`,
			sc.TriggerID, sc.WorkflowID, sc.CronExpression, boolInt(sc.Enabled), nullTime(sc.NextRunAt),
		); err != nil {
			return fmt.Errorf("upsert cron schedule %s: %w", sc.TriggerID, err)
		}
	}

	return tx.Commit()
}

func (s *LibSQLStore) ListCronSchedules(ctx context.Context, filter CronScheduleFilter) ([]*CronSchedule, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}

	query := `SELECT trigger_id, workflow_id, cron_expression, enabled, last_run_at, next_run_at, last_run_status FROM cron_schedules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY trigger_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*CronSchedule
	for rows.Next() {
		sc := &CronSchedule{}
		var enabled int
		var lastRunAt, nextRunAt sql.NullTime
		var lastStatus sql.NullString
		if err := rows.Scan(&sc.TriggerID, &sc.WorkflowID, &sc.CronExpression, &enabled, &lastRunAt, &nextRunAt, &lastStatus); err != nil {
			return nil, err
		}
		sc.Enabled = enabled != 0
		if lastRunAt.Valid {
			sc.LastRunAt = &lastRunAt.Time
		}
		if nextRunAt.Valid {
			sc.NextRunAt = &nextRunAt.Time
		}
		sc.LastRunStatus = lastStatus.String
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

func (s *LibSQLStore) UpdateCronSchedule(ctx context.Context, triggerID string, update CronScheduleUpdate) error {
	var sets []string
	var args []any

	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, triggerID)

	query := fmt.Sprintf("UPDATE cron_schedules SET %s WHERE trigger_id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "cron_schedule", triggerID)
}

// --- Events ---

// AppendEvent appends an event with a monotonically increasing per-work-order
// sequence. The sequence read and the insert share one transaction.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE work_order_id = ?`, event.WorkOrderID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (work_order_id, run_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.WorkOrderID, nullStr(event.RunID), nullStr(event.StepID), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, workOrderID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, work_order_id, run_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE work_order_id = ? AND sequence > ? ORDER BY sequence ASC`,
		workOrderID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var runID, stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkOrderID, &runID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.RunID = runID.String
		e.StepID = stepID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.LoomError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
