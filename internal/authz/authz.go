// Package authz defines the authorization port. Service operations ask the
// checker before acting; how subjects map to permissions (roles, policy
// engine) lives behind the interface.
package authz

import (
	"context"
	"errors"
	"fmt"
)

// ErrDenied is returned when the subject may not perform the action.
var ErrDenied = errors.New("authz: denied")

// Action names one protected operation, e.g. "deposit:credit".
type Action string

// Checker decides whether the subject in ctx may perform the action on the
// object (an entity id, or empty for collection-level operations).
// Implementations return an error wrapping ErrDenied on refusal.
type Checker interface {
	Check(ctx context.Context, action Action, object string) error
}

// AllowAll permits everything. Default wiring for single-tenant deployments
// where trust is established upstream.
type AllowAll struct{}

func (AllowAll) Check(context.Context, Action, string) error { return nil }

// Denied builds the standard refusal error for an action.
func Denied(action Action) error {
	return fmt.Errorf("action %q: %w", action, ErrDenied)
}
