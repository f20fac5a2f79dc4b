package deposit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/prettysheep-coder/bankcore/internal/authz"
	"github.com/prettysheep-coder/bankcore/internal/core/es"
)

// Actions guarding the account operations.
const (
	ActionOpen   authz.Action = "deposit:open"
	ActionCredit authz.Action = "deposit:credit"
	ActionDebit  authz.Action = "deposit:debit"
	ActionClose  authz.Action = "deposit:close"
	ActionRead   authz.Action = "deposit:read"
)

type accountRepo interface {
	Create(ctx context.Context, n es.NewEntity[Event]) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	Update(ctx context.Context, a *Account) error
	ListByCreatedAt(ctx context.Context, after string, desc bool, limit int) (es.Page[*Account], error)
	ListByHolder(ctx context.Context, after string, desc bool, limit int) (es.Page[*Account], error)
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type eventOutbox interface {
	Persist(ctx context.Context, topic, eventType string, payload any) (int64, error)
}

// Service provides deposit account operations. Every write runs in one
// transaction covering the event append and the outbox mirror, retried as a
// whole on concurrent modification.
type Service struct {
	accounts accountRepo
	tx       txManager
	outbox   eventOutbox
	authz    authz.Checker
	log      *slog.Logger
}

// NewService creates a deposit service.
func NewService(
	log *slog.Logger,
	accounts accountRepo,
	tx txManager,
	outbox eventOutbox,
	checker authz.Checker,
) *Service {
	return &Service{
		accounts: accounts,
		tx:       tx,
		outbox:   outbox,
		authz:    checker,
		log:      log.With("service", "deposit"),
	}
}

// envelope is the outbox payload wrapping each account event; it carries
// the account identity so consumers do not need the event log. Event
// decodes with the record's event type via decodeEvent.
type envelope struct {
	AccountID uuid.UUID       `json:"account_id"`
	Currency  string          `json:"currency"`
	Event     json.RawMessage `json:"event"`
}

// mirror copies an account event into the deposit outbox topic inside the
// ambient transaction.
func (s *Service) mirror(ctx context.Context, a *Account, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}
	_, err = s.outbox.Persist(ctx, Topic, e.EventType(), envelope{
		AccountID: a.EntityID(),
		Currency:  a.Currency,
		Event:     data,
	})
	return err
}
