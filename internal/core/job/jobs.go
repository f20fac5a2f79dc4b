package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Jobs is the producer-facing facade: registering handlers and spawning
// work. Spawns run against the ambient transaction when one is present, so
// a job is created atomically with the domain write that needs it.
type Jobs struct {
	repo     *Repo
	registry *Registry
	clock    clockwork.Clock
	log      *slog.Logger
}

// New creates the Jobs facade over a repository and a registry.
func New(repo *Repo, registry *Registry, clock clockwork.Clock, log *slog.Logger) *Jobs {
	return &Jobs{
		repo:     repo,
		registry: registry,
		clock:    clock,
		log:      log.With("component", "jobs"),
	}
}

// Registry returns the registry the executor should run against.
func (j *Jobs) Registry() *Registry { return j.registry }

// AddInitializer registers how to build a runnable handler for a job type.
// Must be called before the executor starts polling that type.
func (j *Jobs) AddInitializer(i Initializer) error {
	return j.registry.Add(i)
}

// AddInitializerAndSpawnUnique registers the handler and ensures exactly one
// non-terminal job of its type exists system-wide, creating it only if
// absent. Used for singleton background loops such as outbox listeners.
func (j *Jobs) AddInitializerAndSpawnUnique(ctx context.Context, i Initializer, config any) (uuid.UUID, error) {
	if err := j.registry.Add(i); err != nil {
		return uuid.Nil, err
	}
	return j.SpawnUnique(ctx, i.JobType(), config)
}

// Spawn creates a new pending job due immediately.
func (j *Jobs) Spawn(ctx context.Context, t Type, config any) (uuid.UUID, error) {
	return j.spawn(ctx, t, config, false)
}

// SpawnUnique creates the job only if no pending or running job of the type
// exists, returning the surviving instance's id either way. Idempotent.
func (j *Jobs) SpawnUnique(ctx context.Context, t Type, config any) (uuid.UUID, error) {
	return j.spawn(ctx, t, config, true)
}

func (j *Jobs) spawn(ctx context.Context, t Type, config any, unique bool) (uuid.UUID, error) {
	if t == "" {
		return uuid.Nil, fmt.Errorf("job: spawn with empty type")
	}

	data, err := json.Marshal(config)
	if err != nil {
		return uuid.Nil, fmt.Errorf("job type %q: marshal config: %w", t, err)
	}

	now := j.clock.Now().UTC()
	row := &Job{
		ID:        uuid.New(),
		Type:      t,
		Config:    json.RawMessage(data),
		State:     StatePending,
		NextRunAt: now,
		CreatedAt: now,
	}

	created, err := j.repo.Create(ctx, row, unique)
	if err != nil {
		return uuid.Nil, err
	}
	if !created {
		// Unique spawn lost to an existing non-terminal instance.
		existing, err := j.repo.FindNonTerminal(ctx, t)
		if err != nil {
			return uuid.Nil, err
		}
		return existing, nil
	}

	j.log.InfoContext(ctx, "job spawned",
		slog.String("job_id", row.ID.String()),
		slog.String("job_type", string(t)),
		slog.Bool("unique", unique),
	)
	return row.ID, nil
}
