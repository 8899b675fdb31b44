// Package cache holds the Redis-backed usage display cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"photoquota/internal/config"
	"photoquota/internal/domain"
)

const keyPrefix = "photoquota:usage:"

// UsageCache stores the last computed usage snapshot per user for display.
// Admission checks never read it.
type UsageCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func NewUsageCache(client *redis.Client, ttl time.Duration) *UsageCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &UsageCache{client: client, ttl: ttl}
}

func key(userID string) string {
	return keyPrefix + userID
}

// Get reports false on a cache miss.
func (c *UsageCache) Get(ctx context.Context, userID string) (*domain.UsageSnapshot, bool, error) {
	data, err := c.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var snapshot domain.UsageSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.client.Del(ctx, key(userID))
		return nil, false, fmt.Errorf("failed to unmarshal usage snapshot: %w", err)
	}

	return &snapshot, true, nil
}

func (c *UsageCache) Set(ctx context.Context, snapshot *domain.UsageSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal usage snapshot: %w", err)
	}

	if err := c.client.Set(ctx, key(snapshot.UserID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *UsageCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping is used by the health check.
func (c *UsageCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *UsageCache) Close() error {
	return c.client.Close()
}
