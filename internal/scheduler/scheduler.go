// Package scheduler fires cron triggers. It polls the cron schedule table,
// which the snapshot manager keeps in sync with saved graphs, and starts a
// run for every schedule that has come due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loomery/loom/internal/store"
)

// DefaultTickInterval is how often the scheduler polls for due triggers.
const DefaultTickInterval = time.Minute

// TriggerStarter is the interface the scheduler uses to start runs.
// Satisfied by the orchestrator (avoids import cycle).
type TriggerStarter interface {
	StartTriggerRun(ctx context.Context, triggerID string) error
}

// TriggerStarterFunc adapts a function to the TriggerStarter interface.
type TriggerStarterFunc func(ctx context.Context, triggerID string) error

func (f TriggerStarterFunc) StartTriggerRun(ctx context.Context, triggerID string) error {
	return f(ctx, triggerID)
}

// Scheduler polls the store for due cron schedules and fires their triggers.
type Scheduler struct {
	store    store.Store
	starter  TriggerStarter
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // trigger IDs currently firing (dedup)
}

// NewScheduler creates a new Scheduler. A non-positive interval falls back to
// DefaultTickInterval.
func NewScheduler(s store.Store, starter TriggerStarter, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval: interval,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", "tick_interval", s.interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every enabled schedule that is due. A schedule with no
// next_run_at yet (freshly synced) is due immediately.
func (s *Scheduler) Tick(ctx context.Context) {
	enabled := true
	schedules, err := s.store.ListCronSchedules(ctx, store.CronScheduleFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list cron schedules", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sched := range schedules {
		if sched.NextRunAt == nil || !sched.NextRunAt.After(now) {
			if !s.tryAcquire(sched.TriggerID) {
				continue // previous firing still in flight (dedup)
			}
			if err := s.fire(ctx, sched, now); err != nil {
				s.logger.Error("failed to fire cron trigger",
					slog.String("trigger_id", sched.TriggerID),
					slog.String("workflow_id", sched.WorkflowID),
					slog.String("error", err.Error()),
				)
			}
			s.release(sched.TriggerID)
		}
	}
}

// fire starts a run for the trigger and records last/next run bookkeeping.
func (s *Scheduler) fire(ctx context.Context, sched *store.CronSchedule, now time.Time) error {
	s.logger.Info("firing cron trigger",
		slog.String("trigger_id", sched.TriggerID),
		slog.String("workflow_id", sched.WorkflowID),
	)

	err := s.starter.StartTriggerRun(ctx, sched.TriggerID)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("cron trigger run failed",
			slog.String("trigger_id", sched.TriggerID),
			slog.String("error", err.Error()),
		)
	}

	return s.recordRun(ctx, sched, now, status)
}

func (s *Scheduler) recordRun(ctx context.Context, sched *store.CronSchedule, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(sched.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for trigger %q: %w", sched.TriggerID, err)
	}

	return s.store.UpdateCronSchedule(ctx, sched.TriggerID, store.CronScheduleUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the trigger as in-flight if it is not
// already firing.
func (s *Scheduler) tryAcquire(triggerID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[triggerID]; ok {
		return false
	}
	s.inflight[triggerID] = struct{}{}
	return true
}

// release removes the trigger from the in-flight set.
func (s *Scheduler) release(triggerID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, triggerID)
}

// CalculateNextRun computes the next firing time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed fires schedules whose next_run_at passed while the process
// was down. Each missed schedule fires once, not once per missed interval.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	schedules, err := s.store.ListCronSchedules(ctx, store.CronScheduleFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed schedules: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, sched := range schedules {
		if sched.NextRunAt != nil && sched.NextRunAt.Before(now) {
			if !s.tryAcquire(sched.TriggerID) {
				continue
			}
			if err := s.fire(ctx, sched, now); err != nil {
				s.logger.Error("failed to recover missed trigger",
					slog.String("trigger_id", sched.TriggerID),
					slog.String("error", err.Error()),
				)
				s.release(sched.TriggerID)
				continue
			}
			s.release(sched.TriggerID)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed cron runs", slog.Int("count", recovered))
	}
	return nil
}
