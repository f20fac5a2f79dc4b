// Package job implements the durable job scheduler: jobs are persisted rows,
// not in-memory timers, so a process restart resumes exactly where it left
// off. Executors claim due jobs with a single atomic conditional update and
// run pluggable handlers that complete, reschedule, or fail with bounded
// retries.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies a kind of job. Handlers register per type; the scheduler
// never enumerates types centrally.
type Type string

// State is a job's lifecycle state. Pending → Running → {Completed,
// Pending (rescheduled), Errored}. Completed and Errored are terminal;
// Errored requires operator-level replay.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateErrored   State = "errored"
)

// Job is one persisted unit of work. Config is fixed at spawn time; state
// transitions are driven only by the executor.
type Job struct {
	ID        uuid.UUID
	Type      Type
	Config    json.RawMessage
	State     State
	ExecState json.RawMessage
	Attempt   int
	NextRunAt time.Time
	AliveAt   *time.Time
	LastError *string
	CreatedAt time.Time
}

// Result is a handler's verdict: complete, or run again at a given time.
type Result struct {
	rescheduleAt *time.Time
}

// Complete marks the job done; it never runs again.
func Complete() Result { return Result{} }

// RescheduleAt puts the job back to pending with the given next run time.
// Used by recurring polling jobs such as the outbox listener.
func RescheduleAt(t time.Time) Result { return Result{rescheduleAt: &t} }

// Runner is the runnable form of one job, built by its Initializer from the
// stored config.
type Runner interface {
	Run(ctx context.Context, exec *Execution) (Result, error)
}

// Initializer knows how to build a Runner for one job type from its stored
// config. It must be registered before the executor polls that type; job
// types register independently, there is no central variant list.
type Initializer interface {
	JobType() Type
	Init(config json.RawMessage) (Runner, error)
}

// ExecStateStore persists per-execution bookkeeping (e.g. an outbox cursor).
type ExecStateStore interface {
	SaveExecState(ctx context.Context, id uuid.UUID, data json.RawMessage) error
}

// Execution is the handle a handler receives for the current run: identity,
// attempt counter, and durable execution state.
type Execution struct {
	job   *Job
	store ExecStateStore
}

// NewExecution builds an execution handle for a job. The executor creates
// these for real runs; tests use it to drive a Runner directly.
func NewExecution(j *Job, store ExecStateStore) *Execution {
	return &Execution{job: j, store: store}
}

// JobID returns the job's identifier.
func (e *Execution) JobID() uuid.UUID { return e.job.ID }

// JobType returns the job's type.
func (e *Execution) JobType() Type { return e.job.Type }

// Attempt returns the 1-based number of this execution.
func (e *Execution) Attempt() int { return e.job.Attempt }

// State unmarshals the durable execution state into v. A job that never
// saved state leaves v untouched.
func (e *Execution) State(v any) error {
	if len(e.job.ExecState) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.job.ExecState, v); err != nil {
		return fmt.Errorf("job %s: unmarshal execution state: %w", e.job.ID, err)
	}
	return nil
}

// SaveState durably replaces the execution state. Handlers call it after
// finishing a batch so a crash resumes from the last acknowledged position,
// never past it.
func (e *Execution) SaveState(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("job %s: marshal execution state: %w", e.job.ID, err)
	}
	if err := e.store.SaveExecState(ctx, e.job.ID, data); err != nil {
		return err
	}
	e.job.ExecState = data
	return nil
}
