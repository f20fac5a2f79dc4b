package deposit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// OpenAccountInput holds the parameters for opening an account.
type OpenAccountInput struct {
	Holder   string
	Currency string
}

// OpenAccount creates a new deposit account and mirrors the opening event
// into the outbox in the same transaction.
func (s *Service) OpenAccount(ctx context.Context, input OpenAccountInput) (*Account, error) {
	if err := s.authz.Check(ctx, ActionOpen, ""); err != nil {
		return nil, err
	}

	n, err := NewAccountDescriptor(uuid.New(), input.Holder, input.Currency)
	if err != nil {
		return nil, err
	}

	var account *Account
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		account, err = s.accounts.Create(ctx, n)
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		for _, e := range n.InitialEvents() {
			if err := s.mirror(ctx, account, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "account opened",
		slog.String("account_id", account.EntityID().String()),
		slog.String("currency", account.Currency),
	)
	return account, nil
}
