package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainmirror/backend/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

// RedisTier implements EphemeralTier on Redis.
type RedisTier struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisTier creates a Redis-backed ephemeral tier and verifies
// connectivity before returning.
func NewRedisTier(cfg config.RedisConfig) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisTier{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// NewRedisTierWithClient wraps an existing client. Useful for tests and for
// sharing one client across components.
func NewRedisTierWithClient(client *redis.Client, keyPrefix string) *RedisTier {
	return &RedisTier{client: client, keyPrefix: keyPrefix}
}

// Get retrieves the raw value for key, reporting absence without error.
func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := t.client.Get(ctx, t.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value under key with the given TTL.
func (t *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.client.Set(ctx, t.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes all keys under prefix using SCAN so the server is
// never blocked by a KEYS call.
func (t *RedisTier) DeletePrefix(ctx context.Context, prefix string) error {
	pattern := t.keyPrefix + prefix + "*"
	iter := t.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		if err := t.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return nil
}

// Ping verifies connectivity. Used by the readiness probe.
func (t *RedisTier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (t *RedisTier) Close() error {
	return t.client.Close()
}

var _ EphemeralTier = (*RedisTier)(nil)
