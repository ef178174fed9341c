// Package snapshot is the save side of the workflow lifecycle: validated,
// optimistically-locked graph saves, soft deletion, and materialization of
// the immutable snapshots that runs bind to.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loomery/loom/internal/store"
	"github.com/loomery/loom/internal/validation"
	"github.com/loomery/loom/pkg/schema"
)

// Manager guards workflow saves with compare-and-set semantics and cuts
// immutable snapshots. All methods are safe for concurrent use.
type Manager struct {
	store     store.Store
	validator validation.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a Manager. validator may be nil to skip payload
// validation (stored graphs are still well-formed JSON).
func NewManager(s store.Store, v validation.Validator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     s,
		validator: v,
		logger:    logger,
		now:       time.Now,
	}
}

// Create inserts a brand-new workflow at lock version zero.
func (m *Manager) Create(ctx context.Context, payload schema.WorkflowPayload) (*store.Workflow, error) {
	if m.validator != nil {
		if err := m.validator.ValidatePayload(&payload); err != nil {
			return nil, err
		}
	}

	wf := &store.Workflow{
		ID:        uuid.NewString(),
		Name:      payload.Name,
		Graph:     payload.Graph,
		Positions: payload.Positions,
	}
	if err := m.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	if err := m.syncCron(ctx, wf.ID, payload.Graph); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "workflow created",
		"workflow_id", wf.ID, "name", wf.Name)
	return wf, nil
}

// Save commits a new graph payload iff the stored lock version still equals
// expectedLockVersion. The check and the increment are one atomic statement
// in the store; there is no merge path. On success the cron schedule table is
// reconciled with the payload's cron triggers and a workflow_saved event is
// recorded.
func (m *Manager) Save(ctx context.Context, workflowID string, payload schema.WorkflowPayload, expectedLockVersion int64) (*store.SaveResult, error) {
	if m.validator != nil {
		if err := m.validator.ValidatePayload(&payload); err != nil {
			return nil, err
		}
	}

	res, err := m.store.SaveWorkflow(ctx, workflowID, payload, expectedLockVersion)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeVersionConflict {
			m.logger.WarnContext(ctx, "workflow save rejected",
				"workflow_id", workflowID, "expected_lock_version", expectedLockVersion)
		}
		return nil, err
	}

	if err := m.syncCron(ctx, workflowID, payload.Graph); err != nil {
		return nil, err
	}

	m.emit(ctx, workflowID, schema.EventWorkflowSaved, map[string]any{
		"lock_version": res.LockVersion,
	})
	m.logger.InfoContext(ctx, "workflow saved",
		"workflow_id", workflowID, "lock_version", res.LockVersion)
	return res, nil
}

// Delete soft-deletes a workflow and retires its cron schedules. One-way.
func (m *Manager) Delete(ctx context.Context, workflowID string) error {
	if err := m.store.DeleteWorkflow(ctx, workflowID); err != nil {
		return err
	}
	if err := m.store.SyncCronSchedules(ctx, workflowID, nil); err != nil {
		return fmt.Errorf("retire cron schedules: %w", err)
	}
	m.logger.InfoContext(ctx, "workflow deleted", "workflow_id", workflowID)
	return nil
}

// Materialize cuts an immutable snapshot of the workflow's current graph.
// Creation is atomic with respect to concurrent saves: a save committed
// mid-materialization yields either the old or the new graph, never a mix.
// A snapshot already cut at the current lock version is reused.
func (m *Manager) Materialize(ctx context.Context, workflowID string) (*store.Snapshot, error) {
	snap, err := m.store.CreateSnapshot(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	m.emit(ctx, workflowID, schema.EventSnapshotCreated, map[string]any{
		"snapshot_id":  snap.ID,
		"lock_version": snap.LockVersion,
	})
	return snap, nil
}

// syncCron reconciles the cron schedule table with the graph's cron triggers.
// Disabled triggers are carried with Enabled=false so the scheduler can tell
// "paused" apart from "removed".
func (m *Manager) syncCron(ctx context.Context, workflowID string, g schema.Graph) error {
	var schedules []store.CronSchedule
	for _, t := range g.Triggers {
		if t.Type != schema.TriggerTypeCron {
			continue
		}
		schedules = append(schedules, store.CronSchedule{
			TriggerID:      t.ID,
			WorkflowID:     workflowID,
			CronExpression: t.CronExpression,
			Enabled:        t.Enabled,
		})
	}
	if err := m.store.SyncCronSchedules(ctx, workflowID, schedules); err != nil {
		return fmt.Errorf("sync cron schedules: %w", err)
	}
	return nil
}

// emit records a workflow-scoped event. The workflow ID is the stream key;
// failures are logged, never fatal to the save path.
func (m *Manager) emit(ctx context.Context, workflowID, eventType string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		m.logger.ErrorContext(ctx, "marshal event payload failed",
			"event_type", eventType, "error", err)
		return
	}
	ev := &store.Event{
		WorkOrderID: workflowID,
		Type:        eventType,
		Payload:     body,
		Timestamp:   m.now().UTC(),
	}
	if err := m.store.AppendEvent(ctx, ev); err != nil {
		m.logger.ErrorContext(ctx, "append event failed",
			"event_type", eventType, "workflow_id", workflowID, "error", err)
	}
}
