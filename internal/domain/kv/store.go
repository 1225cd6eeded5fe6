// Package kv defines the shared key-value store port used by the governance
// pipeline for counters, locks, and TTL-bound records.
//
// Every component that mutates shared state (circuit breaker health counters,
// rate limit windows, half-open trial locks) goes through this interface
// rather than ambient global state. Implementations must make Incr, Decr, and
// SetNX atomic: a naive get-then-put loses updates under concurrent callers.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by operations that require an existing key.
var ErrNotFound = errors.New("kv: key not found")

// Store is the shared key-value store port.
//
// A zero TTL means the key does not expire. Implementations backed by Redis
// map these operations directly; the in-memory adapter is the development and
// test implementation.
type Store interface {
	// Get returns the value for key. The second return is false when the key
	// does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key with the given TTL.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Incr atomically adds delta to the integer counter at key and returns
	// the new value. The TTL is applied only when the counter is created;
	// later increments never extend the window.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Decr atomically subtracts delta from the counter at key, flooring at
	// zero, and returns the new value. Decrementing a missing key returns 0.
	Decr(ctx context.Context, key string, delta int64) (int64, error)

	// SetNX stores value under key only if the key is absent, returning true
	// when the value was stored. This is the create-if-absent primitive used
	// for short-TTL mutual-exclusion locks.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// TTL returns the remaining lifetime of key. The second return is false
	// when the key does not exist or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
