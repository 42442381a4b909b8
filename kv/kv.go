// Package kv defines the shared key-value contract used for rate-limit
// counters, block-list entries and other TTL-bound ephemeral state.
//
// All mutations are atomic single operations. Counter updates in particular
// must use IncrWithTTL (increment-and-compare), never read-then-write.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal TTL-capable key-value contract Hookline requires.
type Store interface {
	// Get returns the value for a key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// IncrWithTTL atomically increments a counter and returns the new value.
	// The TTL is applied only when the key is first created, so the window
	// expires relative to the first hit.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL returns the remaining lifetime of a key, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the store's resources.
	Close() error
}
