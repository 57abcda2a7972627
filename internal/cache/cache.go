/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for hot scheduling
// data: the active-flow snapshot, expanded upcoming occurrences, and
// content titles.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultActiveFlowsTTL  = 30 * time.Second
	DefaultUpcomingTTL     = time.Minute
	DefaultContentTitleTTL = time.Hour
)

// Key prefixes for Redis cache
const (
	KeyActiveFlows  = "bragi:cache:active_flows"
	KeyUpcoming     = "bragi:cache:upcoming"
	KeyContentTitle = "bragi:cache:content_title:" // + content_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ActiveFlowsTTL  time.Duration
	UpcomingTTL     time.Duration
	ContentTitleTTL time.Duration

	// DisableOnError stops talking to Redis after the first error instead
	// of retrying every call.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:       "localhost:6379",
		ActiveFlowsTTL:  DefaultActiveFlowsTTL,
		UpcomingTTL:     DefaultUpcomingTTL,
		ContentTitleTTL: DefaultContentTitleTTL,
		DisableOnError:  true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. A miss and an
// unavailable cache look identical to callers; the store is always the
// source of truth.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache, not an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Active-flow snapshot caching

// GetActiveFlows retrieves the cached active-flow snapshot used by the
// dispatcher and the sweep.
func (c *Cache) GetActiveFlows(ctx context.Context) ([]models.Flow, bool) {
	var flows []models.Flow
	found, err := c.get(ctx, KeyActiveFlows, &flows)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(flows)).Msg("active flows cache hit")
	return flows, true
}

// SetActiveFlows caches the active-flow snapshot. The TTL is short: the
// snapshot is consistency-sensitive and any flow mutation invalidates it
// anyway.
func (c *Cache) SetActiveFlows(ctx context.Context, flows []models.Flow) error {
	return c.set(ctx, KeyActiveFlows, flows, c.config.ActiveFlowsTTL)
}

// InvalidateActiveFlows drops the snapshot after any flow mutation.
func (c *Cache) InvalidateActiveFlows(ctx context.Context) error {
	return c.delete(ctx, KeyActiveFlows)
}

// Upcoming-occurrence view caching

// CachedOccurrence is one expanded window in the upcoming view.
type CachedOccurrence struct {
	FlowID     string            `json:"flow_id"`
	FlowName   string            `json:"flow_name"`
	Priority   int               `json:"priority"`
	Occurrence models.Occurrence `json:"occurrence"`
}

// GetUpcoming retrieves the cached upcoming-occurrence view.
func (c *Cache) GetUpcoming(ctx context.Context) ([]CachedOccurrence, bool) {
	var upcoming []CachedOccurrence
	found, err := c.get(ctx, KeyUpcoming, &upcoming)
	if err != nil || !found {
		return nil, false
	}
	return upcoming, true
}

// SetUpcoming caches the upcoming-occurrence view.
func (c *Cache) SetUpcoming(ctx context.Context, upcoming []CachedOccurrence) error {
	return c.set(ctx, KeyUpcoming, upcoming, c.config.UpcomingTTL)
}

// InvalidateUpcoming drops the upcoming view after a schedule change.
func (c *Cache) InvalidateUpcoming(ctx context.Context) error {
	return c.delete(ctx, KeyUpcoming)
}

// Content title caching

// GetContentTitle retrieves a cached display title.
func (c *Cache) GetContentTitle(ctx context.Context, contentID string) (string, bool) {
	var title string
	found, err := c.get(ctx, KeyContentTitle+contentID, &title)
	if err != nil || !found {
		return "", false
	}
	return title, true
}

// SetContentTitle caches a display title.
func (c *Cache) SetContentTitle(ctx context.Context, contentID, title string) error {
	return c.set(ctx, KeyContentTitle+contentID, title, c.config.ContentTitleTTL)
}

// InvalidateSchedule removes every schedule-derived cache entry. Called on
// any flow create, update, toggle or delete.
func (c *Cache) InvalidateSchedule(ctx context.Context) error {
	if err := c.InvalidateActiveFlows(ctx); err != nil {
		return err
	}
	return c.InvalidateUpcoming(ctx)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "bragi:cache:*")
}
