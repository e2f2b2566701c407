// Package kv provides the expiring key-value store behind sessions and
// quota counters. Keys are either hashes (session records) or integer
// counters (quota windows); every key carries its own TTL.
//
// Absence is a normal return value, not an error: a missing hash comes back
// as a nil map and a missing counter as zero. Callers must treat misses as
// "expired or never existed" and never fail on them.
package kv

import (
	"context"
	"time"
)

// Store is the set of operations the session manager and quota enforcer
// need. The memory implementation backs tests and single-node deployments;
// the redis implementation backs production.
type Store interface {
	// HSet writes a hash at key with the given TTL, replacing any previous
	// value.
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// HGetAll returns the hash at key, or nil if the key is absent or
	// expired.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Touch updates one field of an existing hash and re-arms its TTL as a
	// single round trip. A miss is a silent no-op.
	Touch(ctx context.Context, key, field, value string, ttl time.Duration) error

	// GetInt returns the counter at key, or 0 if absent or expired.
	GetInt(ctx context.Context, key string) (int64, error)

	// IncrWithTTL atomically increments the counter at key and re-arms its
	// TTL, issued together as one round trip, and returns the new value. A
	// missing key starts from zero.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Del removes the given keys. Deleting an absent key is not an error.
	Del(ctx context.Context, keys ...string) error

	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the store's resources.
	Close() error
}
