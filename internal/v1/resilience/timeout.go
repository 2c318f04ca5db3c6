// Package resilience wraps outbound calls to the media engine and the remote
// state store with deadlines, a circuit breaker, and reconnect backoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Op       string
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out after %s", e.Op, e.Deadline)
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

// WithTimeout runs fn under a per-operation deadline. Deadline overruns are
// reported as *TimeoutError carrying the operation name.
func WithTimeout(ctx context.Context, op string, d time.Duration, fn func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Op: op, Deadline: d}
		}
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			// Caller cancellation, not an operation timeout.
			return ctx.Err()
		}
		return &TimeoutError{Op: op, Deadline: d}
	}
}

// WithTimeoutResult is WithTimeout for operations that return a value.
func WithTimeoutResult[T any](ctx context.Context, op string, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(tctx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		if errors.Is(res.err, context.DeadlineExceeded) {
			return zero, &TimeoutError{Op: op, Deadline: d}
		}
		return res.v, res.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Op: op, Deadline: d}
	}
}
