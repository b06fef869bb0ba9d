package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New builds the cache named by cfg.Type. "redis" with EnableTwoPhase puts
// an in-process LRU in front of Redis.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		remote, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return remote, nil
		}
		return NewTwoPhaseCache(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache reads through a local LRU to a shared remote tier and
// writes to both. Local entries live at most localTTL, so results and user
// history written by other replicas become visible within that window.
type TwoPhaseCache struct {
	local  *LRUCache
	remote domain.Cache
	l1TTL  time.Duration
}

// NewTwoPhaseCache layers local over remote. localTTL defaults to 5m.
func NewTwoPhaseCache(local *LRUCache, remote domain.Cache, localTTL time.Duration) *TwoPhaseCache {
	if localTTL <= 0 {
		localTTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: localTTL}
}

// Get serves local hits directly and promotes remote hits.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, tenantID, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return nil, err
	}
	if err := c.local.Set(ctx, tenantID, key, val, c.l1TTL); err != nil {
		slog.Debug("local cache promotion failed", "key", key, "error", err)
	}
	return val, nil
}

// Set writes the remote tier first so a failed write never leaves a
// local-only entry behind.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, tenantID, key, value, ttl); err != nil {
		return err
	}
	return c.local.Set(ctx, tenantID, key, value, c.localTTL(ttl))
}

// Delete invalidates both tiers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

func (c *TwoPhaseCache) GetResult(ctx context.Context, tenantID string, txID string) (*domain.ScoringResult, error) {
	return getResult(ctx, c, tenantID, txID)
}

func (c *TwoPhaseCache) SetResult(ctx context.Context, tenantID string, txID string, result *domain.ScoringResult, ttl time.Duration) error {
	return setResult(ctx, c, tenantID, txID, result, ttl)
}

// Ping reports the remote tier's health; the local tier cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("remote cache: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns the local tier's statistics.
func (c *TwoPhaseCache) Stats() Stats {
	return c.local.Stats()
}

// localTTL caps an entry's local lifetime at l1TTL.
func (c *TwoPhaseCache) localTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > c.l1TTL {
		return c.l1TTL
	}
	return ttl
}
