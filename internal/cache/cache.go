/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based read-through layer for calendar lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/chronograph/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultHolidayTTL  = 1 * time.Hour
	DefaultCapacityTTL = 5 * time.Minute
)

// Key prefixes for Redis cache
const (
	keyPrefix   = "chronograph:cache:"
	KeyHoliday  = keyPrefix + "holiday:"  // + YYYY-MM-DD
	KeyCapacity = keyPrefix + "capacity:" // + streams key
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HolidayTTL  time.Duration
	CapacityTTL time.Duration

	// DisableOnError turns the cache off after the first Redis failure.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		HolidayTTL:     DefaultHolidayTTL,
		CapacityTTL:    DefaultCapacityTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. A nil *Cache
// behaves like a disabled one.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // circuit breaker state
}

// New creates a cache. An unreachable Redis yields a disabled cache, not an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.RedisAddr == "" {
		return Disabled(logger), nil
	}

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
		logger.Warn().Err(err).Msg("redis cache unavailable, running without caching")
		_ = client.Close()
		return Disabled(logger), nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("redis cache initialized")
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.HolidayTTL <= 0 {
		cfg.HolidayTTL = DefaultHolidayTTL
	}
	if cfg.CapacityTTL <= 0 {
		cfg.CapacityTTL = DefaultCapacityTTL
	}
	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}
}

// Disabled returns a cache that never hits.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{logger: logger.With().Str("component", "cache").Logger(), disabled: true}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c != nil && c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError trips the circuit breaker on Redis errors.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to redis error")
	}
}

func (c *Cache) get(ctx context.Context, family, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.CacheOperationsTotal.WithLabelValues(family, "miss").Inc()
		return false
	}
	if err != nil {
		telemetry.CacheOperationsTotal.WithLabelValues(family, "error").Inc()
		c.handleError(err, "get")
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		telemetry.CacheOperationsTotal.WithLabelValues(family, "miss").Inc()
		return false
	}

	telemetry.CacheOperationsTotal.WithLabelValues(family, "hit").Inc()
	return true
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

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// SCAN rather than KEYS so a large keyspace does not block Redis
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

// GetHoliday returns the cached holiday flag for a date.
func (c *Cache) GetHoliday(ctx context.Context, date string) (holiday, found bool) {
	found = c.get(ctx, "holiday", KeyHoliday+date, &holiday)
	return holiday, found
}

// SetHoliday caches the holiday flag for a date.
func (c *Cache) SetHoliday(ctx context.Context, date string, holiday bool) error {
	return c.set(ctx, KeyHoliday+date, holiday, c.config.HolidayTTL)
}

// InvalidateHoliday removes a date from cache.
func (c *Cache) InvalidateHoliday(ctx context.Context, date string) error {
	c.logger.Debug().Str("date", date).Msg("invalidating holiday cache")
	return c.delete(ctx, KeyHoliday+date)
}

// GetCapacity returns a cached stream capacity.
func (c *Cache) GetCapacity(ctx context.Context, key string) (int, bool) {
	var v int
	found := c.get(ctx, "capacity", KeyCapacity+key, &v)
	return v, found
}

// SetCapacity caches a stream capacity.
func (c *Cache) SetCapacity(ctx context.Context, key string, value int) error {
	return c.set(ctx, KeyCapacity+key, value, c.config.CapacityTTL)
}

// InvalidateCapacity removes a stream capacity from cache.
func (c *Cache) InvalidateCapacity(ctx context.Context, key string) error {
	c.logger.Debug().Str("key", key).Msg("invalidating capacity cache")
	return c.delete(ctx, KeyCapacity+key)
}

// FlushAll removes all cached calendar data.
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, keyPrefix+"*")
}
