// Package cache keeps raw content API responses in Redis so that several
// companion instances share one upstream fetch and survive upstream outages.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when no body is cached for the key.
var ErrMiss = errors.New("cache miss")

const keyPrefix = "arc:resp:"

// DefaultTTL is used when NewRedisCache is given a non-positive TTL.
const DefaultTTL = 10 * time.Minute

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached response body for url.
func (c *RedisCache) Get(ctx context.Context, url string) ([]byte, error) {
	body, err := c.client.Get(ctx, buildKey(url)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return body, nil
}

// Set stores body for url, replacing any previous value and resetting its TTL.
func (c *RedisCache) Set(ctx context.Context, url string, body []byte) error {
	if err := c.client.Set(ctx, buildKey(url), body, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity for the health endpoint.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func buildKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return keyPrefix + hex.EncodeToString(sum[:])
}
