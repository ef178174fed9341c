package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/loomery/loom/internal/diagram"
	"github.com/loomery/loom/internal/expressions"
	"github.com/loomery/loom/internal/logging"
	"github.com/loomery/loom/internal/orchestrator"
	"github.com/loomery/loom/internal/scheduler"
	"github.com/loomery/loom/internal/secrets"
	"github.com/loomery/loom/internal/snapshot"
	"github.com/loomery/loom/internal/store"
	"github.com/loomery/loom/internal/streaming"
	"github.com/loomery/loom/internal/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "loom:", err)
		os.Exit(1)
	}
}

func run() error {
	diagramID := flag.String("diagram", "", "print a Mermaid diagram of the given workflow and exit")
	flag.Parse()

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if *diagramID != "" {
		wf, err := s.GetWorkflow(ctx, *diagramID)
		if err != nil {
			return err
		}
		fmt.Print(diagram.RenderMermaid(wf.Name, wf.Graph))
		return nil
	}

	var vault secrets.Vault
	if cfg.VaultPassphrase != "" {
		vault, err = secrets.NewAESVault(s, secrets.VaultConfig{
			Passphrase: cfg.VaultPassphrase,
			Salt:       []byte(cfg.VaultSalt),
		})
		if err != nil {
			return fmt.Errorf("open vault: %w", err)
		}
	} else {
		logger.Warn("no vault passphrase configured; credentials unavailable")
	}

	conditions, err := newConditionEvaluator(cfg.ConditionEngine)
	if err != nil {
		return err
	}

	validator, err := validation.NewGraphValidator()
	if err != nil {
		return fmt.Errorf("compile workflow schema: %w", err)
	}
	manager := snapshot.NewManager(s, validator, logger)

	// Stand-in executor until a real one is attached: every dispatched step
	// echoes its input back as a successful result.
	var orch *orchestrator.Orchestrator
	executor := orchestrator.JobExecutorFunc(func(ctx context.Context, req orchestrator.StepRequest) error {
		go func() {
			report := orchestrator.CompletionReport{RawExitReason: "success", Output: req.Input}
			if err := orch.OnStepComplete(ctx, req.RunID, req.StepID, report); err != nil {
				logger.Error("step completion failed",
					"run_id", req.RunID, "step_id", req.StepID, "error", err)
			}
		}()
		return nil
	})
	orch = orchestrator.New(s, executor, vault, conditions, logger, orchestrator.Config{
		PoolSize: cfg.PoolSize,
	})
	orch.UseSnapshots(manager)
	orch.UseEvents(streaming.NewMemoryHub())
	defer orch.Shutdown()

	stepTimeout := duration(cfg.StepTimeout, orchestrator.DefaultStepTimeout)
	if stepTimeout > 0 {
		watchdog := orchestrator.NewWatchdog(s, orch, stepTimeout, 0, logger)
		go watchdog.Run(ctx)
	}

	sched := scheduler.NewScheduler(s,
		scheduler.TriggerStarterFunc(func(ctx context.Context, triggerID string) error {
			_, err := orch.StartRunFromTrigger(ctx, triggerID, "")
			return err
		}),
		duration(cfg.SchedulerTick, scheduler.DefaultTickInterval), logger)
	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Error("missed-run recovery failed", "error", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	logger.Info("loom engine started",
		"db_path", cfg.DBPath,
		"condition_engine", cfg.ConditionEngine,
		"pool_size", cfg.PoolSize,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func newConditionEvaluator(engine string) (*expressions.ConditionEvaluator, error) {
	switch engine {
	case "", "expr":
		return expressions.NewConditionEvaluator(expressions.NewExprEngine()), nil
	case "cel":
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return nil, fmt.Errorf("build cel engine: %w", err)
		}
		return expressions.NewConditionEvaluator(cel), nil
	default:
		return nil, fmt.Errorf("unknown condition engine %q (expected expr or cel)", engine)
	}
}
