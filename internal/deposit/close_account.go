package deposit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/prettysheep-coder/bankcore/internal/core/es"
)

// CloseAccount closes an account. The account stays readable and listable;
// the terminal event only refuses further movements.
func (s *Service) CloseAccount(ctx context.Context, accountID uuid.UUID) error {
	if err := s.authz.Check(ctx, ActionClose, accountID.String()); err != nil {
		return err
	}

	err := es.Retry(ctx, es.DefaultRetryAttempts, func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			account, err := s.accounts.FindByID(ctx, accountID)
			if err != nil {
				return fmt.Errorf("find account: %w", err)
			}
			if err := account.Close(); err != nil {
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
		return err
	}

	s.log.InfoContext(ctx, "account closed", slog.String("account_id", accountID.String()))
	return nil
}
