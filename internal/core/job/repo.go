package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prettysheep-coder/bankcore/internal/adapter/postgres"
)

var (
	// ErrNoDueJobs is returned by Claim when nothing is claimable right now.
	ErrNoDueJobs = errors.New("job: no due jobs")

	// ErrJobNotFound is returned when a job id or type has no matching row.
	ErrJobNotFound = errors.New("job not found")
)

const jobColumns = `id, job_type, config, state, exec_state, attempt, next_run_at, alive_at, last_error, created_at`

// claimSQL is the atomic claim: it selects one due job (or one whose owner
// stopped heartbeating past the liveness timeout), fences out other workers
// via FOR UPDATE SKIP LOCKED, and transitions it to running in the same
// statement. Never check-then-act.
const claimSQL = `
UPDATE jobs SET state = 'running', alive_at = $1, attempt = attempt + 1
WHERE id = (
    SELECT id FROM jobs
    WHERE (state = 'pending' AND next_run_at <= $1)
       OR (state = 'running' AND alive_at <= $2)
    ORDER BY next_run_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns

const insertSQL = `
INSERT INTO jobs (id, job_type, config, state, unique_per_type, attempt, next_run_at, created_at)
VALUES ($1, $2, $3, 'pending', $4, 0, $5, $6)`

// Repo persists jobs in PostgreSQL. Write operations participate in the
// ambient transaction when one is present, so spawning a job can share fate
// with the domain write that triggered it.
type Repo struct {
	db postgres.Querier
}

// NewRepo creates a job repository.
func NewRepo(db postgres.Querier) *Repo {
	return &Repo{db: db}
}

// Create inserts a pending job. With unique set, the partial unique index
// over non-terminal jobs of the same type turns the insert into a no-op when
// such a job already exists; the returned bool reports whether a row was
// actually inserted.
func (r *Repo) Create(ctx context.Context, j *Job, unique bool) (bool, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	sql := insertSQL
	if unique {
		sql += ` ON CONFLICT DO NOTHING`
	}

	tag, err := q.Exec(ctx, sql, j.ID, j.Type, j.Config, unique, j.NextRunAt, j.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("job %s: insert: %w", j.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindNonTerminal returns the id of the pending or running job of the given
// type, if one exists.
func (r *Repo) FindNonTerminal(ctx context.Context, t Type) (uuid.UUID, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	var id uuid.UUID
	err := q.QueryRow(ctx,
		`SELECT id FROM jobs WHERE job_type = $1 AND state IN ('pending', 'running') LIMIT 1`, t,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("job type %q: %w", t, ErrJobNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("job type %q: find non-terminal: %w", t, err)
	}
	return id, nil
}

// CountNonTerminal returns how many pending or running jobs of the type
// exist. Used to verify spawn-unique invariants.
func (r *Repo) CountNonTerminal(ctx context.Context, t Type) (int, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	var n int
	err := q.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE job_type = $1 AND state IN ('pending', 'running')`, t,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("job type %q: count non-terminal: %w", t, err)
	}
	return n, nil
}

// FindByID loads one job row.
func (r *Repo) FindByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	row := q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("job %s: find: %w", id, err)
	}
	return j, nil
}

// Claim atomically claims one due job, transitioning it to running with a
// fresh liveness timestamp. reclaimBefore is the cutoff past which a
// running job's owner is presumed dead. Returns ErrNoDueJobs if nothing is
// claimable.
func (r *Repo) Claim(ctx context.Context, now, reclaimBefore time.Time) (*Job, error) {
	q := postgres.QuerierFromCtx(ctx, r.db)

	row := q.QueryRow(ctx, claimSQL, now, reclaimBefore)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoDueJobs
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

// Complete transitions a job to its terminal completed state.
func (r *Repo) Complete(ctx context.Context, id uuid.UUID) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	if _, err := q.Exec(ctx, `UPDATE jobs SET state = 'completed', alive_at = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("job %s: complete: %w", id, err)
	}
	return nil
}

// Reschedule puts a job back to pending with a new due time. resetAttempts
// distinguishes a handler-requested reschedule (a fresh cycle of a
// recurring job) from a retry after failure (attempt counter kept).
func (r *Repo) Reschedule(ctx context.Context, id uuid.UUID, at time.Time, resetAttempts bool) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	sql := `UPDATE jobs SET state = 'pending', next_run_at = $2, alive_at = NULL WHERE id = $1`
	if resetAttempts {
		sql = `UPDATE jobs SET state = 'pending', next_run_at = $2, alive_at = NULL, attempt = 0, last_error = NULL WHERE id = $1`
	}
	if _, err := q.Exec(ctx, sql, id, at); err != nil {
		return fmt.Errorf("job %s: reschedule: %w", id, err)
	}
	return nil
}

// MarkErrored transitions a job to its terminal errored state, recording the
// last handler error for operator attention.
func (r *Repo) MarkErrored(ctx context.Context, id uuid.UUID, lastError string) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	if _, err := q.Exec(ctx,
		`UPDATE jobs SET state = 'errored', alive_at = NULL, last_error = $2 WHERE id = $1`, id, lastError,
	); err != nil {
		return fmt.Errorf("job %s: mark errored: %w", id, err)
	}
	return nil
}

// KeepAlive refreshes the liveness timestamp of a running job so other
// executors do not reclaim it while its handler is still working.
func (r *Repo) KeepAlive(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	if _, err := q.Exec(ctx,
		`UPDATE jobs SET alive_at = $2 WHERE id = $1 AND state = 'running'`, id, at,
	); err != nil {
		return fmt.Errorf("job %s: keep alive: %w", id, err)
	}
	return nil
}

// SaveExecState durably replaces a job's execution state.
func (r *Repo) SaveExecState(ctx context.Context, id uuid.UUID, data json.RawMessage) error {
	q := postgres.QuerierFromCtx(ctx, r.db)

	if _, err := q.Exec(ctx, `UPDATE jobs SET exec_state = $2 WHERE id = $1`, id, data); err != nil {
		return fmt.Errorf("job %s: save execution state: %w", id, err)
	}
	return nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j       Job
		jobType string
		state   string
	)
	err := row.Scan(
		&j.ID, &jobType, &j.Config, &state, &j.ExecState,
		&j.Attempt, &j.NextRunAt, &j.AliveAt, &j.LastError, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Type, j.State = Type(jobType), State(state)
	return &j, nil
}
