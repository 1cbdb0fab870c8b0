package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheValue is one slot of a batched cache read. Found distinguishes an
// absent key from a cached empty collection (negative cache).
type CacheValue struct {
	Data  string
	Found bool
}

// Cache is the key-value collaborator backing resolution results. Values
// are serialized collections; an empty serialized collection is a valid,
// meaningful entry distinct from "absent".
type Cache interface {
	Get(ctx context.Context, key string) (CacheValue, error)
	// MultiGet returns one slot per input key, order preserved.
	MultiGet(ctx context.Context, keys []string) ([]CacheValue, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// RedisCache implements Cache on a shared Redis instance.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps the given client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get reads a single key.
func (c *RedisCache) Get(ctx context.Context, key string) (CacheValue, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return CacheValue{}, nil
	}
	if err != nil {
		return CacheValue{}, fmt.Errorf("rbac: cache get %s: %w", key, err)
	}
	return CacheValue{Data: value, Found: true}, nil
}

// MultiGet reads keys in one round trip, one slot per key.
func (c *RedisCache) MultiGet(ctx context.Context, keys []string) ([]CacheValue, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("rbac: cache mget: %w", err)
	}
	values := make([]CacheValue, len(keys))
	for i, slot := range raw {
		if slot == nil {
			continue
		}
		if s, ok := slot.(string); ok {
			values[i] = CacheValue{Data: s, Found: true}
		}
	}
	return values, nil
}

// Put writes a key with the configured TTL.
func (c *RedisCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("rbac: cache put %s: %w", key, err)
	}
	return nil
}

// PutIfAbsent writes the key only when missing, reporting whether it won.
func (c *RedisCache) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("rbac: cache putifabsent %s: %w", key, err)
	}
	return ok, nil
}

// Delete removes the given keys. Missing keys are not an error.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("rbac: cache delete: %w", err)
	}
	return nil
}
