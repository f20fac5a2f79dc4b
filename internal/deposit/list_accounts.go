package deposit

import (
	"context"

	"github.com/prettysheep-coder/bankcore/internal/core/es"
	"github.com/prettysheep-coder/bankcore/internal/domain"
)

// ListOrder selects the listing's ordering key.
type ListOrder string

const (
	OrderByCreatedAt ListOrder = "created_at"
	OrderByHolder    ListOrder = "holder"
)

// ListAccountsInput holds the parameters for a paginated account listing.
type ListAccountsInput struct {
	OrderBy ListOrder // defaults to OrderByCreatedAt
	Desc    bool
	After   string // cursor from the previous page; empty starts over
	Limit   int
}

// ListAccounts pages accounts by opening time or holder name, in either
// direction. The returned cursor resumes after the last item.
func (s *Service) ListAccounts(ctx context.Context, input ListAccountsInput) (es.Page[*Account], error) {
	var zero es.Page[*Account]

	if err := s.authz.Check(ctx, ActionRead, ""); err != nil {
		return zero, err
	}

	switch input.OrderBy {
	case OrderByCreatedAt, "":
		return s.accounts.ListByCreatedAt(ctx, input.After, input.Desc, input.Limit)
	case OrderByHolder:
		return s.accounts.ListByHolder(ctx, input.After, input.Desc, input.Limit)
	default:
		return zero, domain.NewValidationError("order_by", "unknown ordering")
	}
}
