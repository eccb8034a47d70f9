package cacher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher is a process-local Cacher backed by go-cache. Concurrent
// misses on one key are collapsed with singleflight.
type MemoryCacher[T any] struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryCacher creates an in-memory cache.
//
// Parameters:
//   - defaultExpiration: TTL applied when GetOrFetch is given cache.DefaultExpiration
//   - cleanupInterval: How often expired entries are purged
//
// Returns:
//   - A new MemoryCacher
func NewMemoryCacher[T any](defaultExpiration, cleanupInterval time.Duration) *MemoryCacher[T] {
	return &MemoryCacher[T]{cache: cache.New(defaultExpiration, cleanupInterval)}
}

func (c *MemoryCacher[T]) lookup(key string) (T, bool) {
	if v, found := c.cache.Get(key); found {
		if typed, ok := v.(T); ok {
			return typed, true
		}
	}

	var zero T
	return zero, false
}

// GetOrFetch returns the cached value or fetches it once for all concurrent
// callers. A caller whose ctx ends while waiting on another caller's fetch
// returns ctx.Err(); the fetch itself keeps running and still fills the cache.
func (c *MemoryCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		v, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}

		c.cache.Set(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}

		typed, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("unexpected type %T cached for key %s", res.Val, key)
		}

		return typed, nil
	}
}

// Delete removes key.
func (c *MemoryCacher[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Delete(key)
	return nil
}

// DeleteByPrefix removes every key starting with prefix.
func (c *MemoryCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	for key := range c.cache.Items() {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
			deleted++
		}
	}

	return deleted, nil
}

// ItemCount returns the number of entries, including expired ones not yet purged.
func (c *MemoryCacher[T]) ItemCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return c.cache.ItemCount(), nil
}
