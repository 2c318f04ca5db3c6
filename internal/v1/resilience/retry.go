package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ConnectBackoff returns the exponential backoff policy used for transient
// signaling connection establishment: base 1s, factor 2, cap 30s, +/-10%
// jitter.
func ConnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0.1
	return b
}

// RetryConnect retries fn with the connect backoff policy until it succeeds,
// the context is cancelled, or maxElapsed passes (zero means no cap).
func RetryConnect[T any](ctx context.Context, maxElapsed time.Duration, fn func() (T, error)) (T, error) {
	opts := []backoff.RetryOption{backoff.WithBackOff(ConnectBackoff())}
	if maxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(maxElapsed))
	}
	return backoff.Retry(ctx, backoff.Operation[T](fn), opts...)
}
