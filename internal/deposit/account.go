package deposit

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/prettysheep-coder/bankcore/internal/core/es"
	"github.com/prettysheep-coder/bankcore/internal/domain"
)

// Domain rejections surfaced by account commands.
var (
	ErrAccountClosed     = fmt.Errorf("account is closed: %w", domain.ErrConflict)
	ErrInsufficientFunds = fmt.Errorf("insufficient funds: %w", domain.ErrValidation)
)

// Status of an account. Closed is terminal.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Account is the deposit account aggregate. State is a pure fold of its
// event sequence: two loads that witness the same sequence are identical.
type Account struct {
	es.Events[Event]

	Holder   string
	Currency string
	Balance  decimal.Decimal
	Status   Status
}

// ApplyEvent folds one event into the account state. It must stay free of
// validation and side effects; commands validate before appending.
func (a *Account) ApplyEvent(e Event) {
	switch v := e.(type) {
	case AccountOpened:
		a.Holder = v.Holder
		a.Currency = v.Currency
		a.Balance = decimal.Zero
		a.Status = StatusOpen
	case AccountCredited:
		a.Balance = a.Balance.Add(v.Amount)
	case AccountDebited:
		a.Balance = a.Balance.Sub(v.Amount)
	case AccountClosed:
		a.Status = StatusClosed
	}
}

// Credit appends a credit event. Amount must be positive.
func (a *Account) Credit(amount decimal.Decimal, ref string) error {
	if err := a.open(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return domain.NewValidationError("amount", "must be positive")
	}

	e := AccountCredited{Amount: amount, Ref: ref}
	a.Append(e)
	a.ApplyEvent(e)
	return nil
}

// Debit appends a debit event, refusing to overdraw.
func (a *Account) Debit(amount decimal.Decimal, ref string) error {
	if err := a.open(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return domain.NewValidationError("amount", "must be positive")
	}
	if a.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}

	e := AccountDebited{Amount: amount, Ref: ref}
	a.Append(e)
	a.ApplyEvent(e)
	return nil
}

// Close appends the terminal closed event. Only a zero-balance account can
// close; sweep the balance first. Closing twice is a conflict.
func (a *Account) Close() error {
	if err := a.open(); err != nil {
		return err
	}
	if !a.Balance.IsZero() {
		return domain.NewValidationError("balance", "must be zero to close")
	}

	e := AccountClosed{}
	a.Append(e)
	a.ApplyEvent(e)
	return nil
}

func (a *Account) open() error {
	if a.Status == StatusClosed {
		return ErrAccountClosed
	}
	return nil
}
