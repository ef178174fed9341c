package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/loomery/loom/internal/store"
)

// DefaultStepTimeout is how long a dispatched step may stay silent before the
// watchdog declares it lost.
const DefaultStepTimeout = 30 * time.Minute

// DefaultSweepInterval is how often the watchdog scans for silent steps.
const DefaultSweepInterval = time.Minute

// Watchdog reaps steps whose executor never reported completion. A reaped
// step is completed with the raw exit reason "lost", which normalizes to
// crash, so a silent executor cannot leave a run non-terminal forever.
type Watchdog struct {
	store    store.Store
	orch     *Orchestrator
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewWatchdog creates a watchdog. Zero timeout or interval fall back to the
// defaults.
func NewWatchdog(s store.Store, orch *Orchestrator, timeout, interval time.Duration, logger *slog.Logger) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{store: s, orch: orch, timeout: timeout, interval: interval, logger: logger}
}

// Run sweeps on the configured interval until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error("watchdog sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep marks every overdue in-flight step as lost. Individual failures are
// logged and do not abort the sweep.
func (w *Watchdog) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-w.timeout)
	overdue, err := w.store.ListInFlightSteps(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, s := range overdue {
		report := CompletionReport{RawExitReason: "lost", ErrorType: "LostAfterTimeout"}
		if err := w.orch.OnStepComplete(ctx, s.RunID, s.StepID, report); err != nil {
			w.logger.Error("reap lost step failed",
				slog.String("run_id", s.RunID),
				slog.String("step_id", s.StepID),
				slog.String("error", err.Error()))
			continue
		}
		w.logger.Warn("step lost",
			slog.String("run_id", s.RunID),
			slog.String("step_id", s.StepID),
			slog.Duration("overdue_by", time.Since(s.StartedAt)-w.timeout))
	}
	return nil
}
