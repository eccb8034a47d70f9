// Package cacher caches the results of slow lookups, such as the DNS queries
// made when dialing outbound peers. Concurrent misses on one key share a
// single fetch.
package cacher

import (
	"context"
	"time"
)

// FetchFunc produces the value for a key on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher stores values by key with a per-entry TTL. Failed fetches are never
// cached.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, or calls fetchFn and caches
	// its result for ttl.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key
	//   - ttl: How long a fetched value stays cached
	//   - fetchFn: Produces the value on a miss
	//
	// Returns:
	//   - The cached or fetched value
	//   - An error if the fetch or the cache backend fails
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Delete removes key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every key starting with prefix.
	//
	// Returns:
	//   - The number of keys removed
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// ItemCount returns the number of cached entries.
	ItemCount(ctx context.Context) (int, error)
}
