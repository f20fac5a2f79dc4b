package app

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/prettysheep-coder/bankcore/internal/adapter/postgres"
	"github.com/prettysheep-coder/bankcore/internal/config"
	"github.com/prettysheep-coder/bankcore/internal/core/job"
	"github.com/prettysheep-coder/bankcore/internal/core/outbox"
	"github.com/prettysheep-coder/bankcore/internal/deposit"
	"github.com/prettysheep-coder/bankcore/internal/ledger"
)

// Run is the application entry point: it loads configuration, wires the
// store, the outbox, the job machinery and the deposit service, spawns the
// singleton ledger-sync listener, and runs the executor until a shutdown
// signal arrives.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := NewLogger(cfg.Log)
	logger.Info("starting application",
		slog.String("version", BuildVersion()),
		slog.String("log_level", cfg.Log.Level),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	clock := clockwork.NewRealClock()
	ob := outbox.New(pool, clock, logger, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)

	jobs := job.New(job.NewRepo(pool), job.NewRegistry(), clock, logger)
	executor := job.NewExecutor(job.NewRepo(pool), jobs.Registry(), job.ExecutorConfig{
		PollInterval:    cfg.Jobs.PollInterval,
		Workers:         cfg.Jobs.Workers,
		MaxAttempts:     cfg.Jobs.MaxAttempts,
		LivenessTimeout: cfg.Jobs.LivenessTimeout,
		BaseBackoff:     cfg.Jobs.BaseBackoff,
	}, clock, logger)

	ledgerSync := deposit.NewLedgerSync(ob, ledger.NewLogClient(logger),
		cfg.Outbox.BatchSize, cfg.Outbox.PollInterval)
	if _, err := jobs.AddInitializerAndSpawnUnique(ctx, ledgerSync,
		outbox.ListenerConfig{Topic: deposit.Topic}); err != nil {
		return err
	}

	logger.Info("executor starting", slog.Int("workers", cfg.Jobs.Workers))

	done := make(chan error, 1)
	go func() { done <- executor.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-ctx.Done():
		// Give in-flight job handlers a bounded window to finish.
		select {
		case <-done:
		case <-time.After(cfg.App.ShutdownTimeout):
			logger.Warn("shutdown timeout exceeded, abandoning in-flight jobs")
		}
	}

	logger.Info("shutting down")
	return nil
}
