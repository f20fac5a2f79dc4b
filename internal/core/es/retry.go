package es

import (
	"context"
	"errors"
)

// DefaultRetryAttempts bounds use-case retries on write contention.
const DefaultRetryAttempts = 3

// Retry re-runs a whole load-mutate-persist cycle while it fails with
// ErrConcurrentModification, up to the given attempt count, surfacing the
// last error when exhausted. Any other error returns immediately: use-case
// logic is pure given the snapshot it read, so only contention is retryable.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
