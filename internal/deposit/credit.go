package deposit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/prettysheep-coder/bankcore/internal/core/es"
)

// CreditInput holds the parameters for crediting an account.
type CreditInput struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Ref       string
}

// Credit books a deposit. The load-mutate-persist cycle and the outbox
// mirror share one transaction; on a concurrent modification the whole
// cycle is retried against a fresh load.
func (s *Service) Credit(ctx context.Context, input CreditInput) (*Account, error) {
	if err := s.authz.Check(ctx, ActionCredit, input.AccountID.String()); err != nil {
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
			if err := account.Credit(input.Amount, input.Ref); err != nil {
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

	s.log.InfoContext(ctx, "account credited",
		slog.String("account_id", input.AccountID.String()),
		slog.String("amount", input.Amount.String()),
		slog.String("ref", input.Ref),
	)
	return account, nil
}
