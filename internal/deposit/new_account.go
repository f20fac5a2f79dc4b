package deposit

import (
	"strings"

	"github.com/google/uuid"

	"github.com/prettysheep-coder/bankcore/internal/domain"
)

// NewAccount is a validated intent to open an account. Once constructed it
// converts deterministically into the initial event sequence.
type NewAccount struct {
	id       uuid.UUID
	holder   string
	currency string
}

// NewAccountDescriptor validates all fields and collects all errors.
// Currency is an ISO 4217 alphabetic code.
func NewAccountDescriptor(id uuid.UUID, holder, currency string) (NewAccount, error) {
	var errs []domain.FieldError

	if id == uuid.Nil {
		errs = append(errs, domain.FieldError{Field: "id", Message: "required"})
	}

	holder = strings.TrimSpace(holder)
	if holder == "" {
		errs = append(errs, domain.FieldError{Field: "holder", Message: "required"})
	}
	if len(holder) > 200 {
		errs = append(errs, domain.FieldError{Field: "holder", Message: "max 200 characters"})
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		errs = append(errs, domain.FieldError{Field: "currency", Message: "must be a 3-letter ISO code"})
	}

	if len(errs) > 0 {
		return NewAccount{}, domain.NewValidationErrors(errs)
	}
	return NewAccount{id: id, holder: holder, currency: currency}, nil
}

// EntityID returns the id the account will be created under.
func (n NewAccount) EntityID() uuid.UUID { return n.id }

// InitialEvents returns the account's opening event sequence.
func (n NewAccount) InitialEvents() []Event {
	return []Event{AccountOpened{Holder: n.holder, Currency: n.currency}}
}
