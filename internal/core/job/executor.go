package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const maxBackoff = 5 * time.Minute

// ExecutorConfig tunes the poller. Zero values fall back to defaults.
type ExecutorConfig struct {
	// PollInterval is the idle sleep between claim attempts.
	PollInterval time.Duration

	// Workers is the number of concurrent claim loops in this process.
	Workers int

	// MaxAttempts bounds handler retries before a job goes errored.
	MaxAttempts int

	// LivenessTimeout is how long a running job may go without a heartbeat
	// before any executor may reclaim it (owner presumed dead).
	LivenessTimeout time.Duration

	// BaseBackoff seeds the exponential retry backoff.
	BaseBackoff time.Duration
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = time.Minute
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	return c
}

// jobStore is the slice of the repository the executor drives.
type jobStore interface {
	Claim(ctx context.Context, now, reclaimBefore time.Time) (*Job, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, at time.Time, resetAttempts bool) error
	MarkErrored(ctx context.Context, id uuid.UUID, lastError string) error
	KeepAlive(ctx context.Context, id uuid.UUID, at time.Time) error
	SaveExecState(ctx context.Context, id uuid.UUID, data json.RawMessage) error
}

// Executor polls for due jobs and runs their handlers. Multiple executor
// processes are safe: the claim is an atomic row transition, so the same
// job instance never runs twice concurrently, while distinct jobs run fully
// in parallel.
type Executor struct {
	store    jobStore
	registry *Registry
	cfg      ExecutorConfig
	clock    clockwork.Clock
	log      *slog.Logger
}

// NewExecutor creates an executor over the registry.
func NewExecutor(store jobStore, registry *Registry, cfg ExecutorConfig, clock clockwork.Clock, log *slog.Logger) *Executor {
	return &Executor{
		store:    store,
		registry: registry,
		cfg:      cfg.withDefaults(),
		clock:    clock,
		log:      log.With("component", "job_executor"),
	}
}

// Start runs the worker loops until ctx is done.
func (e *Executor) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error {
			e.workerLoop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (e *Executor) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := e.RunNext(ctx)
		if err != nil && ctx.Err() == nil {
			e.log.ErrorContext(ctx, "claim failed", slog.String("error", err.Error()))
		}
		if claimed {
			// Drain the backlog before going idle.
			continue
		}

		select {
		case <-e.clock.After(e.cfg.PollInterval):
		case <-ctx.Done():
			return
		}
	}
}

// RunNext claims and runs at most one due job, reporting whether one was
// claimed. Exposed for tests and for callers that drive their own loop.
func (e *Executor) RunNext(ctx context.Context) (bool, error) {
	now := e.clock.Now().UTC()

	j, err := e.store.Claim(ctx, now, now.Add(-e.cfg.LivenessTimeout))
	if errors.Is(err, ErrNoDueJobs) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	e.runJob(ctx, j)
	return true, nil
}

func (e *Executor) runJob(ctx context.Context, j *Job) {
	log := e.log.With(
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", j.Attempt),
	)

	init, ok := e.registry.lookup(j.Type)
	if !ok {
		// No amount of retrying conjures a handler; park for the operator.
		log.ErrorContext(ctx, "no initializer registered")
		e.settle(ctx, log, e.store.MarkErrored(ctx, j.ID, fmt.Sprintf("no initializer registered for job type %q", j.Type)))
		return
	}

	runner, err := init.Init(j.Config)
	if err != nil {
		log.ErrorContext(ctx, "handler init failed", slog.String("error", err.Error()))
		e.settle(ctx, log, e.store.MarkErrored(ctx, j.ID, fmt.Sprintf("init: %v", err)))
		return
	}

	// Heartbeat while the handler runs so a slow job is not reclaimed.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		e.heartbeat(hbCtx, j.ID)
	}()

	result, runErr := e.safeRun(ctx, runner, &Execution{job: j, store: e.store})

	stopHeartbeat()
	<-hbDone

	switch {
	case runErr != nil:
		e.retryOrPark(ctx, log, j, runErr)
	case result.rescheduleAt != nil:
		log.DebugContext(ctx, "job rescheduled", slog.Time("next_run_at", *result.rescheduleAt))
		e.settle(ctx, log, e.store.Reschedule(ctx, j.ID, *result.rescheduleAt, true))
	default:
		log.InfoContext(ctx, "job completed")
		e.settle(ctx, log, e.store.Complete(ctx, j.ID))
	}
}

// safeRun invokes the handler, converting panics into handler errors so a
// misbehaving job can never crash the poller.
func (e *Executor) safeRun(ctx context.Context, runner Runner, exec *Execution) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return runner.Run(ctx, exec)
}

// retryOrPark reschedules a failed job with exponential backoff until its
// attempts are exhausted, then parks it as errored for the operator.
func (e *Executor) retryOrPark(ctx context.Context, log *slog.Logger, j *Job, runErr error) {
	if j.Attempt >= e.cfg.MaxAttempts {
		log.ErrorContext(ctx, "job errored, attempts exhausted", slog.String("error", runErr.Error()))
		e.settle(ctx, log, e.store.MarkErrored(ctx, j.ID, runErr.Error()))
		return
	}

	at := e.clock.Now().UTC().Add(e.backoff(j.Attempt))
	log.WarnContext(ctx, "job failed, retrying",
		slog.String("error", runErr.Error()),
		slog.Time("next_run_at", at),
	)
	e.settle(ctx, log, e.store.Reschedule(ctx, j.ID, at, false))
}

func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// heartbeat refreshes the claim's liveness timestamp at half the timeout.
func (e *Executor) heartbeat(ctx context.Context, id uuid.UUID) {
	interval := e.cfg.LivenessTimeout / 2
	for {
		select {
		case <-e.clock.After(interval):
			if err := e.store.KeepAlive(ctx, id, e.clock.Now().UTC()); err != nil && ctx.Err() == nil {
				e.log.WarnContext(ctx, "heartbeat failed",
					slog.String("job_id", id.String()),
					slog.String("error", err.Error()),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

// settle logs state-transition failures; the job row will be reclaimed after
// the liveness timeout if the transition never landed.
func (e *Executor) settle(ctx context.Context, log *slog.Logger, err error) {
	if err != nil && ctx.Err() == nil {
		log.ErrorContext(ctx, "job state transition failed", slog.String("error", err.Error()))
	}
}
