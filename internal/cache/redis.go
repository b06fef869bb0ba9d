package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache is the shared result and history cache of the pro tier.
// Keys are "kestrel:{tenant}:<key>"; the braces keep one tenant's keys in
// a single Redis Cluster hash slot.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache dials Redis and verifies the connection.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisCache{client: client}, nil
}

// Get returns nil, nil on a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}
	val, err := c.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value. A non-positive ttl keeps the key until deleted.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return errTenantRequired
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, redisKey(tenantID, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete unlinks the key; Redis reclaims the memory asynchronously.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return errTenantRequired
	}
	return c.client.Unlink(ctx, redisKey(tenantID, key)).Err()
}

func (c *RedisCache) GetResult(ctx context.Context, tenantID string, txID string) (*domain.ScoringResult, error) {
	return getResult(ctx, c, tenantID, txID)
}

func (c *RedisCache) SetResult(ctx context.Context, tenantID string, txID string, result *domain.ScoringResult, ttl time.Duration) error {
	return setResult(ctx, c, tenantID, txID, result, ttl)
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(tenantID, key string) string {
	return "kestrel:{" + tenantID + "}:" + key
}
