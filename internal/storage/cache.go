// Package storage provides storage-backed supporting services for the
// worker: queue URL caching, idempotency bookkeeping, and oversized payload
// offload.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Default TTL for queue URL cache entries (24 hours)
	// Queue URLs rarely change, so a long TTL is appropriate
	defaultQueueURLTTL = 24 * time.Hour
)

// RedisCache is a small Redis-backed string cache used for queue URL
// resolution.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a new Redis-based cache
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
	}
}

// buildKey constructs the full cache key with prefix
func (c *RedisCache) buildKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// Get retrieves a value from the cache. A missing key returns "" without an
// error.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, c.buildKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil // Key doesn't exist
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return val, nil
}

// Set stores a value in the cache with optional TTL (0 means the default TTL)
func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultQueueURLTTL
	}

	if err := c.client.Set(ctx, c.buildKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes a value from the cache
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
