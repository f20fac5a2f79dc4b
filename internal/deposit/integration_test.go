//go:build integration

package deposit_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prettysheep-coder/bankcore/internal/adapter/postgres"
	"github.com/prettysheep-coder/bankcore/internal/adapter/postgres/testhelper"
	"github.com/prettysheep-coder/bankcore/internal/authz"
	"github.com/prettysheep-coder/bankcore/internal/core/es"
	"github.com/prettysheep-coder/bankcore/internal/core/job"
	"github.com/prettysheep-coder/bankcore/internal/core/outbox"
	"github.com/prettysheep-coder/bankcore/internal/deposit"
	"github.com/prettysheep-coder/bankcore/internal/ledger"
)

type fixture struct {
	svc    *deposit.Service
	repo   *deposit.Repo
	tx     *postgres.TxManager
	outbox *outbox.Outbox
	jobs   *job.Jobs
	jobsDB *job.Repo
	pool   *pgxpool.Pool
}

func setup(t *testing.T) *fixture {
	t.Helper()

	pool := testhelper.SetupTestDB(t)
	clock := clockwork.NewRealClock()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := deposit.NewRepo(pool, clock)
	tx := postgres.NewTxManager(pool)
	ob := outbox.New(pool, clock, log, 10*time.Millisecond, 100)
	jobsDB := job.NewRepo(pool)

	return &fixture{
		svc:    deposit.NewService(log, repo, tx, ob, authz.AllowAll{}),
		repo:   repo,
		tx:     tx,
		outbox: ob,
		jobs:   job.New(jobsDB, job.NewRegistry(), clock, log),
		jobsDB: jobsDB,
		pool:   pool,
	}
}

func mustDec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestIntegration_CreateAndReload(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	account, err := f.svc.OpenAccount(ctx, deposit.OpenAccountInput{Holder: "Ada", Currency: "EUR"})
	require.NoError(t, err)

	_, err = f.svc.Credit(ctx, deposit.CreditInput{AccountID: account.EntityID(), Amount: mustDec("100.50"), Ref: "salary"})
	require.NoError(t, err)
	_, err = f.svc.Debit(ctx, deposit.DebitInput{AccountID: account.EntityID(), Amount: mustDec("30.25"), Ref: "rent"})
	require.NoError(t, err)

	loaded, err := f.repo.FindByID(ctx, account.EntityID())
	require.NoError(t, err)
	assert.True(t, loaded.Balance.Equal(mustDec("70.25")))
	assert.Equal(t, int64(3), loaded.LastPersisted())
}

func TestIntegration_ConcurrentUpdateConflicts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	account, err := f.svc.OpenAccount(ctx, deposit.OpenAccountInput{Holder: "Ada", Currency: "EUR"})
	require.NoError(t, err)

	// Two stale snapshots of the same account; both try to append at the
	// same sequence. Exactly one append wins.
	a, err := f.repo.FindByID(ctx, account.EntityID())
	require.NoError(t, err)
	b, err := f.repo.FindByID(ctx, account.EntityID())
	require.NoError(t, err)

	require.NoError(t, a.Credit(mustDec("10"), "first"))
	require.NoError(t, b.Credit(mustDec("20"), "second"))

	require.NoError(t, f.repo.Update(ctx, a))
	err = f.repo.Update(ctx, b)
	require.ErrorIs(t, err, es.ErrConcurrentModification)

	loaded, err := f.repo.FindByID(ctx, account.EntityID())
	require.NoError(t, err)
	assert.True(t, loaded.Balance.Equal(mustDec("10")), "only the winner's event persisted")
}

func TestIntegration_ServiceRetriesThroughConflicts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	account, err := f.svc.OpenAccount(ctx, deposit.OpenAccountInput{Holder: "Ada", Currency: "EUR"})
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Credit(ctx, deposit.CreditInput{
				AccountID: account.EntityID(),
				Amount:    mustDec("1"),
				Ref:       "burst",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	require.Positive(t, succeeded)

	loaded, err := f.repo.FindByID(ctx, account.EntityID())
	require.NoError(t, err)
	assert.True(t, loaded.Balance.Equal(decimal.NewFromInt(int64(succeeded))),
		"balance reflects exactly the successful credits")
}

func TestIntegration_OutboxSharesFateWithDomainWrite(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	account, err := f.svc.OpenAccount(ctx, deposit.OpenAccountInput{Holder: "Ada", Currency: "EUR"})
	require.NoError(t, err)
	_, err = f.svc.Credit(ctx, deposit.CreditInput{AccountID: account.EntityID(), Amount: mustDec("5"), Ref: ""})
	require.NoError(t, err)

	before, err := f.outbox.Fetch(ctx, deposit.Topic, 0, 100)
	require.NoError(t, err)

	// A rolled-back transaction must leave no outbox trace and no gap.
	sentinel := errors.New("boom")
	err = f.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := f.repo.FindByID(ctx, account.EntityID())
		if err != nil {
			return err
		}
		if err := a.Credit(mustDec("999"), "doomed"); err != nil {
			return err
		}
		if err := f.repo.Update(ctx, a); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = f.svc.Credit(ctx, deposit.CreditInput{AccountID: account.EntityID(), Amount: mustDec("7"), Ref: ""})
	require.NoError(t, err)

	after, err := f.outbox.Fetch(ctx, deposit.Topic, 0, 100)
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)
	for i, r := range after {
		assert.Equal(t, int64(i+1), r.Sequence, "sequences stay gapless across rollbacks")
	}

	loaded, err := f.repo.FindByID(ctx, account.EntityID())
	require.NoError(t, err)
	assert.True(t, loaded.Balance.Equal(mustDec("12")))
}

func TestIntegration_SpawnUniqueIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cfg := outbox.ListenerConfig{Topic: deposit.Topic}
	first, err := f.jobs.SpawnUnique(ctx, deposit.LedgerSyncJobType, cfg)
	require.NoError(t, err)
	second, err := f.jobs.SpawnUnique(ctx, deposit.LedgerSyncJobType, cfg)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	n, err := f.jobsDB.CountNonTerminal(ctx, deposit.LedgerSyncJobType)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIntegration_LedgerSyncEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	account, err := f.svc.OpenAccount(ctx, deposit.OpenAccountInput{Holder: "Ada", Currency: "EUR"})
	require.NoError(t, err)
	_, err = f.svc.Credit(ctx, deposit.CreditInput{AccountID: account.EntityID(), Amount: mustDec("100"), Ref: "salary"})
	require.NoError(t, err)
	_, err = f.svc.Debit(ctx, deposit.DebitInput{AccountID: account.EntityID(), Amount: mustDec("40"), Ref: "rent"})
	require.NoError(t, err)

	var mu sync.Mutex
	var postings []ledger.Posting
	client := ledgerClientFunc(func(_ context.Context, p ledger.Posting) error {
		mu.Lock()
		defer mu.Unlock()
		postings = append(postings, p)
		return nil
	})

	listener := deposit.NewLedgerSync(f.outbox, client, 10, 10*time.Millisecond)
	id, err := f.jobs.AddInitializerAndSpawnUnique(ctx, listener, outbox.ListenerConfig{Topic: deposit.Topic})
	require.NoError(t, err)

	exec := job.NewExecutor(f.jobsDB, f.jobs.Registry(), job.ExecutorConfig{
		PollInterval: 10 * time.Millisecond,
		Workers:      1,
	}, clockwork.NewRealClock(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	claimed, err := exec.RunNext(ctx)
	require.NoError(t, err)
	require.True(t, claimed)

	// The topic is shared across tests in this suite; assert on this
	// account's postings only.
	mu.Lock()
	var mine []ledger.Posting
	for _, p := range postings {
		if p.AccountID == account.EntityID() {
			mine = append(mine, p)
		}
	}
	mu.Unlock()

	require.Len(t, mine, 2)
	assert.Equal(t, ledger.DirectionCredit, mine[0].Direction)
	assert.True(t, mine[0].Amount.Equal(mustDec("100")))
	assert.Equal(t, ledger.DirectionDebit, mine[1].Direction)
	assert.Less(t, mine[0].Sequence, mine[1].Sequence)

	// The durable cursor sits at the end of the topic.
	all, err := f.outbox.Fetch(ctx, deposit.Topic, 0, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	stored, err := f.jobsDB.FindByID(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"after":%d}`, all[len(all)-1].Sequence), string(stored.ExecState))
}

func TestIntegration_ListingPagesWithCursor(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	holders := []string{"zz-pag-a", "zz-pag-b", "zz-pag-c", "zz-pag-d", "zz-pag-e"}
	for _, h := range holders {
		_, err := f.svc.OpenAccount(ctx, deposit.OpenAccountInput{Holder: h, Currency: "EUR"})
		require.NoError(t, err)
	}

	// Walk the whole listing in small pages; the suite's other accounts get
	// filtered out, ours must come back complete and in holder order.
	var got []string
	cursor := ""
	for {
		page, err := f.svc.ListAccounts(ctx, deposit.ListAccountsInput{
			OrderBy: deposit.OrderByHolder,
			After:   cursor,
			Limit:   2,
		})
		require.NoError(t, err)
		for _, a := range page.Items {
			if strings.HasPrefix(a.Holder, "zz-pag-") {
				got = append(got, a.Holder)
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, holders, got)

	// Descending traversal reverses the order from the same index.
	page, err := f.svc.ListAccounts(ctx, deposit.ListAccountsInput{
		OrderBy: deposit.OrderByHolder,
		Desc:    true,
		Limit:   200,
	})
	require.NoError(t, err)

	var desc []string
	for _, a := range page.Items {
		if strings.HasPrefix(a.Holder, "zz-pag-") {
			desc = append(desc, a.Holder)
		}
	}
	assert.Equal(t, []string{"zz-pag-e", "zz-pag-d", "zz-pag-c", "zz-pag-b", "zz-pag-a"}, desc)
}

func TestIntegration_ClaimReclaimsStalledRunningJob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// The job table is shared across the suite; drain whatever is due so
	// the claim below can only return the job staged by this test.
	now := time.Now().UTC()
	for {
		_, err := f.jobsDB.Claim(ctx, now, now.Add(-time.Minute))
		if errors.Is(err, job.ErrNoDueJobs) {
			break
		}
		require.NoError(t, err)
	}

	staleType := job.Type(fmt.Sprintf("stale-owner-%s", uuid.NewString()[:8]))
	id, err := f.jobs.Spawn(ctx, staleType, nil)
	require.NoError(t, err)

	// Simulate an owner that claimed the job and then died: running state
	// with a heartbeat far behind the liveness horizon.
	_, err = f.pool.Exec(ctx,
		`UPDATE jobs SET state = 'running', attempt = 1, alive_at = $2 WHERE id = $1`,
		id, now.Add(-10*time.Minute))
	require.NoError(t, err)

	claimed, err := f.jobsDB.Claim(ctx, now, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, id, claimed.ID)
	assert.Equal(t, staleType, claimed.Type)
	assert.Equal(t, job.StateRunning, claimed.State)
	assert.Equal(t, 2, claimed.Attempt, "reclaim counts as a fresh attempt")
	require.NotNil(t, claimed.AliveAt)
	assert.True(t, claimed.AliveAt.After(now.Add(-time.Minute)), "heartbeat reset on reclaim")
}

type ledgerClientFunc func(ctx context.Context, p ledger.Posting) error

func (f ledgerClientFunc) Post(ctx context.Context, p ledger.Posting) error { return f(ctx, p) }
