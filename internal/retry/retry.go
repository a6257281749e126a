// Package retry re-runs idempotent marketplace calls on transient failure.
package retry

import (
	"context"
	"time"

	"booking-proxy/internal/model"
)

// Policy controls attempts and spacing. The wait before attempt n+1 is
// Delay * n, so the default policy waits 1s then 2s.
type Policy struct {
	Attempts int
	Delay    time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Defaults to model.IsTransient.
	Retryable func(error) bool
}

// Default is three attempts spaced by a one-second linear backoff.
var Default = Policy{Attempts: 3, Delay: time.Second}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = model.IsTransient
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || !retryable(err) {
			return err
		}

		timer := time.NewTimer(p.Delay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// Value is Do for functions that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
