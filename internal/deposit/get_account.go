package deposit

import (
	"context"

	"github.com/google/uuid"
)

// GetAccount loads one account by id.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	if err := s.authz.Check(ctx, ActionRead, accountID.String()); err != nil {
		return nil, err
	}
	return s.accounts.FindByID(ctx, accountID)
}
