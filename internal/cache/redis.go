package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "reflow:cache:"

// RedisBackend stores computed values in Redis so multiple runtime
// instances can share one memoization cache. Values round-trip through
// JSON; cached results are opaque payloads, so the usual JSON number
// widening applies.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to the Redis instance described by url
// (redis:// form) and verifies the connection.
func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

func redisKey(fp Fingerprint) string {
	return redisKeyPrefix + string(fp)
}

// Get retrieves a cached value by fingerprint.
func (b *RedisBackend) Get(ctx context.Context, fp Fingerprint) (any, bool, error) {
	data, err := b.client.Get(ctx, redisKey(fp)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached value: %w", err)
	}
	return value, true, nil
}

// Set stores a computed value with the given TTL (0 means no expiry).
func (b *RedisBackend) Set(ctx context.Context, fp Fingerprint, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cached value: %w", err)
	}
	if err := b.client.Set(ctx, redisKey(fp), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Del removes entries by fingerprint.
func (b *RedisBackend) Del(ctx context.Context, fps ...Fingerprint) error {
	if len(fps) == 0 {
		return nil
	}
	keys := make([]string, len(fps))
	for i, fp := range fps {
		keys[i] = redisKey(fp)
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping verifies connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
