// Package retry retries idempotent reads against backing stores.
// Writes must not go through this package.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	// MaxTries bounds the attempts of one read, including the first.
	MaxTries uint = 3
	// InitialInterval is the first backoff delay; later delays grow exponentially.
	InitialInterval = 50 * time.Millisecond
	// MaxInterval caps a single backoff delay.
	MaxInterval = 500 * time.Millisecond
)

// Read calls fn until it succeeds, MaxTries is reached, or fn returns an error matching
// one of permanent (checked with errors.Is). Context errors are never retried.
func Read[T any](ctx context.Context, fn func() (T, error), permanent ...error) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = InitialInterval
	b.MaxInterval = MaxInterval

	op := func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if isPermanent(err, permanent) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(MaxTries))
}

func isPermanent(err error, permanent []error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, p := range permanent {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}
