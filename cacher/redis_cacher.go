package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 256

// RedisCacher is a Cacher shared by every process pointing at the same Redis
// database. Values are stored as JSON under namespace+key, so several
// caches can live in one database; misses are collapsed per process.
type RedisCacher[T any] struct {
	client    redis.UniversalClient
	namespace string
	group     singleflight.Group
}

// NewRedisCacher creates a Redis-backed cache.
//
// Parameters:
//   - client: The Redis client
//   - namespace: Prefix applied to every key, e.g. "gamenet:dns:"
//
// Returns:
//   - A new RedisCacher
func NewRedisCacher[T any](client redis.UniversalClient, namespace string) *RedisCacher[T] {
	return &RedisCacher[T]{client: client, namespace: namespace}
}

func (c *RedisCacher[T]) get(ctx context.Context, key string) (T, bool, error) {
	var out T
	raw, err := c.client.Get(ctx, c.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, false, nil
	}

	if err != nil {
		return out, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode cached %s: %w", key, err)
	}

	return out, true, nil
}

// GetOrFetch returns the cached value or fetches and stores it. A failed
// store is reported even though the fetched value is valid, so callers can
// fall back to the fetch result.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	if v, found, err := c.get(ctx, key); err != nil || found {
		return v, err
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, found, err := c.get(ctx, key); err != nil || found {
			return v, err
		}

		v, err := fetchFn(ctx)
		if err != nil {
			return zero, err
		}

		raw, err := json.Marshal(v)
		if err != nil {
			return v, fmt.Errorf("encode %s: %w", key, err)
		}

		if err := c.client.Set(ctx, c.namespace+key, raw, ttl).Err(); err != nil {
			return v, fmt.Errorf("redis set %s: %w", key, err)
		}

		return v, nil
	})

	typed, _ := v.(T)
	return typed, err
}

// Delete removes key.
func (c *RedisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.namespace+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}

	return nil
}

func (c *RedisCacher[T]) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.namespace+prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", prefix, err)
	}

	return keys, nil
}

// DeleteByPrefix removes every key in the namespace starting with prefix.
func (c *RedisCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := c.scan(ctx, prefix)
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}

	return int(deleted), nil
}

// ItemCount returns the number of keys in the namespace.
func (c *RedisCacher[T]) ItemCount(ctx context.Context) (int, error) {
	keys, err := c.scan(ctx, "")
	return len(keys), err
}
