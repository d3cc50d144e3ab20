// Package retry provides a bounded retry helper with pluggable backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// BackoffFunc returns the delay before the next attempt. attempt is
// 1-based and counts the attempt that just failed.
type BackoffFunc func(attempt int) time.Duration

// Linear grows the delay by step per attempt: step, 2*step, 3*step, ...
func Linear(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// stopError marks an error as non-retryable.
type stopError struct{ err error }

func (s *stopError) Error() string { return s.err.Error() }
func (s *stopError) Unwrap() error { return s.err }

// Stop wraps an error so Do returns it immediately without further
// attempts.
func Stop(err error) error {
	return &stopError{err: err}
}

// Do runs fn up to attempts times, sleeping backoff(n) between attempts.
// It returns nil on the first success, the inner error of a Stop-wrapped
// failure immediately, or the last error once attempts are exhausted.
// Context cancellation aborts the wait and returns the context error.
func Do(ctx context.Context, attempts int, backoff BackoffFunc, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var stop *stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
