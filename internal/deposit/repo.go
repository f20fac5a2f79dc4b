package deposit

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/prettysheep-coder/bankcore/internal/adapter/postgres"
	"github.com/prettysheep-coder/bankcore/internal/core/es"
)

// Repo persists deposit accounts through the event-sourced repository.
// Listings are served from the deposit_accounts index table, maintained on
// every create and update.
type Repo struct {
	*es.Repo[Event, *Account]
}

// NewRepo creates the deposit account repository.
func NewRepo(db postgres.Querier, clock clockwork.Clock) *Repo {
	return &Repo{
		Repo: es.MustNewRepo[Event, *Account](db, clock, es.RepoConfig[Event, *Account]{
			EventsTable: "deposit_account_events",
			IndexTable:  "deposit_accounts",
			New:         func() *Account { return &Account{} },
			DecodeEvent: decodeEvent,
			Indexes: []es.IndexColumn[*Account]{
				{
					Name:  "holder",
					Value: func(a *Account) any { return a.Holder },
				},
				{
					Name:  "status",
					Value: func(a *Account) any { return string(a.Status) },
				},
			},
		}),
	}
}

// ListByCreatedAt pages accounts in opening order.
func (r *Repo) ListByCreatedAt(ctx context.Context, after string, desc bool, limit int) (es.Page[*Account], error) {
	return r.List(ctx, es.ListQuery{OrderBy: "created_at", Desc: desc, After: after, Limit: limit})
}

// ListByHolder pages accounts ordered by holder name.
func (r *Repo) ListByHolder(ctx context.Context, after string, desc bool, limit int) (es.Page[*Account], error) {
	return r.List(ctx, es.ListQuery{OrderBy: "holder", Desc: desc, After: after, Limit: limit})
}
