package auth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes of refresh token records in the token cache.
const (
	activeTokenPrefix  = "refresh_token:"
	revokedTokenPrefix = "revoked_token:"
	revokedMarker      = "revoked"
)

// TokenCache is a key-value store with per-key expiry. Each call is atomic for its single key.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
}

func activeKey(token string) string  { return activeTokenPrefix + token }
func revokedKey(token string) string { return revokedTokenPrefix + token }

// RedisTokenCache implements TokenCache on Redis.
type RedisTokenCache struct {
	client redis.Cmdable
}

// NewRedisTokenCache creates a Redis-backed token cache.
func NewRedisTokenCache(client redis.Cmdable) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

// Get returns the value stored at key.
func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set stores value at key with the given expiry.
func (c *RedisTokenCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes key. Only one of several concurrent callers observes true.
func (c *RedisTokenCache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
