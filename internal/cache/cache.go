/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for plugin details
// fetched from update servers.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultPluginInfoTTL bounds how long plugin details are served from cache.
const DefaultPluginInfoTTL = 6 * time.Hour

// KeyPluginInfo prefixes cached plugin details; the slug follows.
const KeyPluginInfo = "updatehelper:cache:plugin_info:"

// Config contains cache configuration.
type Config struct {
	Prefix        string
	PluginInfoTTL time.Duration

	// DisableOnError turns the cache off after the first Redis failure.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:         KeyPluginInfo,
		PluginInfoTTL:  DefaultPluginInfoTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback. A Cache
// without a client is permanently disabled and every lookup misses.
type Cache struct {
	client redis.UniversalClient
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // circuit breaker state
}

// New creates a cache over client. A failed ping disables the cache rather
// than failing startup.
func New(ctx context.Context, client redis.UniversalClient, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.Prefix == "" {
		cfg.Prefix = KeyPluginInfo
	}
	if cfg.PluginInfoTTL <= 0 {
		cfg.PluginInfoTTL = DefaultPluginInfoTTL
	}
	c := &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}
	if client == nil {
		c.disabled = true
		return c
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		c.disabled = true
		return c
	}
	c.logger.Info().Msg("Redis cache initialized")
	return c
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
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
	if errors.Is(err, redis.Nil) {
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

// deletePattern deletes all keys matching a pattern using SCAN.
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
			return nil
		}
	}
}

// GetPluginInfo returns cached details of slug.
func (c *Cache) GetPluginInfo(ctx context.Context, slug string) (map[string]any, bool) {
	var info map[string]any
	found, err := c.get(ctx, c.config.Prefix+slug, &info)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("slug", slug).Msg("plugin info cache hit")
	return info, true
}

// SetPluginInfo caches details of slug.
func (c *Cache) SetPluginInfo(ctx context.Context, slug string, info map[string]any) {
	if err := c.set(ctx, c.config.Prefix+slug, info, c.config.PluginInfoTTL); err != nil {
		c.logger.Debug().Err(err).Str("slug", slug).Msg("failed to cache plugin info")
	}
}

// InvalidatePluginInfo drops the cached details of slug.
func (c *Cache) InvalidatePluginInfo(ctx context.Context, slug string) {
	_ = c.delete(ctx, c.config.Prefix+slug)
}

// InvalidateAll drops every cached plugin.
func (c *Cache) InvalidateAll(ctx context.Context) {
	_ = c.deletePattern(ctx, c.config.Prefix+"*")
}
