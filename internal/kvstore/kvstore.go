// Package kvstore is the shared, TTL-capable key-value store behind the
// guard layer, risk memory, hot cache and decision counters.
//
// Every mutating call is a single atomic operation on the backing store, so
// callers never need in-process locks around shared state.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("kvstore: unavailable")

// Store provides the atomic primitives the decision path relies on.
type Store interface {
	// SetNX sets key to value with ttl only if key does not exist. It
	// reports whether the key was set. An existing key keeps its TTL.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// IncrWindow increments key and, only when this increment created the
	// counter, sets its expiry to window. Returns the post-increment value.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// IncrBy adds delta to every key and renews each key's TTL, all in one
	// transaction.
	IncrBy(ctx context.Context, delta int64, ttl time.Duration, keys ...string) error

	// Sum returns the sum of the integer values at keys. Missing or expired
	// keys count as zero.
	Sum(ctx context.Context, keys ...string) (int64, error)

	// Incr increments a counter with no expiry.
	Incr(ctx context.Context, key string) (int64, error)

	// PushTrim prepends value to the list at key and trims it to max items.
	PushTrim(ctx context.Context, key string, value []byte, max int) error

	// Range returns up to limit items from the head of the list at key.
	Range(ctx context.Context, key string, limit int) ([][]byte, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
