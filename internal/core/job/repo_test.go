package job

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return NewRepo(mock), mock
}

func emptyJobRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "job_type", "config", "state", "exec_state",
		"attempt", "next_run_at", "alive_at", "last_error", "created_at",
	})
}

func jobRows(j *Job) *pgxmock.Rows {
	return emptyJobRows().AddRow(
		j.ID, string(j.Type), j.Config, string(j.State), j.ExecState,
		j.Attempt, j.NextRunAt, j.AliveAt, j.LastError, j.CreatedAt,
	)
}

func TestRepoCreate_Unique(t *testing.T) {
	t.Parallel()

	repo, mock := newTestRepo(t)
	j := testJob("ledger_sync", 0)

	mock.ExpectExec(`INSERT INTO jobs .+ ON CONFLICT DO NOTHING`).
		WithArgs(j.ID, j.Type, j.Config, true, j.NextRunAt, j.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := repo.Create(context.Background(), j, true)
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoCreate_UniqueLosesToExisting(t *testing.T) {
	t.Parallel()

	repo, mock := newTestRepo(t)
	j := testJob("ledger_sync", 0)

	mock.ExpectExec(`INSERT INTO jobs .+ ON CONFLICT DO NOTHING`).
		WithArgs(j.ID, j.Type, j.Config, true, j.NextRunAt, j.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := repo.Create(context.Background(), j, true)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRepoClaim_ReturnsDueJob(t *testing.T) {
	t.Parallel()

	repo, mock := newTestRepo(t)
	now := time.Now().UTC()

	want := &Job{
		ID:        uuid.New(),
		Type:      "sweep",
		Config:    json.RawMessage(`{}`),
		State:     StateRunning,
		Attempt:   1,
		NextRunAt: now,
		AliveAt:   &now,
		CreatedAt: now,
	}

	mock.ExpectQuery(`UPDATE jobs SET state = 'running'`).
		WithArgs(now, now.Add(-time.Minute)).
		WillReturnRows(jobRows(want))

	got, err := repo.Claim(context.Background(), now, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, StateRunning, got.State)
	assert.Equal(t, 1, got.Attempt)
}

func TestRepoClaim_NoDueJobs(t *testing.T) {
	t.Parallel()

	repo, mock := newTestRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE jobs SET state = 'running'`).
		WithArgs(now, now.Add(-time.Minute)).
		WillReturnRows(emptyJobRows())

	_, err := repo.Claim(context.Background(), now, now.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrNoDueJobs)
}

func TestRepoFindNonTerminal_NotFound(t *testing.T) {
	t.Parallel()

	repo, mock := newTestRepo(t)

	mock.ExpectQuery(`SELECT id FROM jobs WHERE job_type`).
		WithArgs(Type("sweep")).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := repo.FindNonTerminal(context.Background(), "sweep")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRepoReschedule_ResetClearsAttempts(t *testing.T) {
	t.Parallel()

	repo, mock := newTestRepo(t)
	id := uuid.New()
	at := time.Now().UTC().Add(time.Minute)

	mock.ExpectExec(`UPDATE jobs SET state = 'pending', next_run_at = \$2, alive_at = NULL, attempt = 0, last_error = NULL`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Reschedule(context.Background(), id, at, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoKeepAlive_OnlyWhileRunning(t *testing.T) {
	t.Parallel()

	repo, mock := newTestRepo(t)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE jobs SET alive_at = \$2 WHERE id = \$1 AND state = 'running'`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	// A job no longer running ignores the heartbeat without error.
	require.NoError(t, repo.KeepAlive(context.Background(), id, at))
}
