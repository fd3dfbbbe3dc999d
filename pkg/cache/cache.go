// Package cache provides a generic, thread-safe TTL cache for on-demand
// computed values.
//
// Entries expire lazily on lookup: an entry older than its TTL is treated as
// absent and removed, with no background sweeper. This is acceptable because
// the working set is small and bounded by the distinct keys actually
// requested. Statistics are always collected; Prometheus metrics export is
// optional via functional options.
package cache

import (
	"context"
	"time"

	"github.com/c360/telemetry/errors"
)

// Cache represents a generic cache interface parameterized by value type V.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found and
	// fresh, zero value and false otherwise.
	Get(key string) (V, bool)

	// Set stores a value with the cache's default TTL. Returns true if a new
	// entry was created, false if an existing entry was updated.
	Set(key string, value V) (bool, error)

	// SetWithTTL stores a value with an explicit TTL overriding the default.
	SetWithTTL(key string, value V, ttl time.Duration) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries, including entries that have
	// expired but not yet been observed by a lookup.
	Size() int

	// Keys returns all keys whose entries are currently fresh.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close releases any resources held by the cache.
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// GetOrCompute returns the cached value for key if one exists and its age is
// within ttl. Otherwise it invokes compute, stores the result under key with
// the given ttl, and returns it. A failed computation is never cached; its
// error propagates to the caller.
//
// Concurrent calls for the same cold key may each invoke compute. There is no
// single-flight de-duplication: recomputation is idempotent and side-effect
// free against the store, so duplicate work is a performance cost only.
func GetOrCompute[V any](
	ctx context.Context, c Cache[V], key string, ttl time.Duration,
	compute func(context.Context) (V, error),
) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err := compute(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	if _, err := c.SetWithTTL(key, value, ttl); err != nil {
		var zero V
		return zero, err
	}
	return value, nil
}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
