package deposit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prettysheep-coder/bankcore/internal/core/es"
)

// DebitInput holds the parameters for debiting an account.
type DebitInput struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Ref       string
}

// Debit books a withdrawal. The funds check runs against the freshly loaded
// snapshot inside the transaction, so two racing debits can never jointly
// overdraw: the loser's append conflicts and its retry sees the new balance.
func (s *Service) Debit(ctx context.Context, input DebitInput) (*Account, error) {
	if err := s.authz.Check(ctx, ActionDebit, input.AccountID.String()); err != nil {
		return nil, err
	}

	var account *Account
	err := es.Retry(ctx, es.DefaultRetryAttempts, func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			var err error
			account, err = s.accounts.FindByID(ctx, input.AccountID)
			if err != nil {
				return fmt.Errorf("find account: %w", err)
			}
			if err := account.Debit(input.Amount, input.Ref); err != nil {
				return err
			}
			for _, e := range account.Pending() {
				if err := s.mirror(ctx, account, e); err != nil {
					return err
				}
			}
			return s.accounts.Update(ctx, account)
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "account debited",
		slog.String("account_id", input.AccountID.String()),
		slog.String("amount", input.Amount.String()),
		slog.String("ref", input.Ref),
	)
	return account, nil
}
