// Package store provides the key/value port used for cross-node
// coordination, with a process-local implementation for dev mode and a
// Redis-backed implementation for cluster mode.
package store

import (
	"context"
	"time"
)

// OpError wraps a failed store operation so callers can classify store
// failures without matching on driver error strings.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return "state store " + e.Op + ": " + e.Err.Error() }
func (e *OpError) Unwrap() error { return e.Err }

// Store is the key/value port. Values are opaque strings; callers serialize
// as needed. Pattern syntax for Keys is glob-style ("room:*").
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Clear(ctx context.Context) error
	Close() error
}
