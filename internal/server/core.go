/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/plugin_update_helper/internal/actions"
	"github.com/friendsincode/plugin_update_helper/internal/audit"
	"github.com/friendsincode/plugin_update_helper/internal/cache"
	"github.com/friendsincode/plugin_update_helper/internal/config"
	"github.com/friendsincode/plugin_update_helper/internal/db"
	"github.com/friendsincode/plugin_update_helper/internal/eventbus"
	"github.com/friendsincode/plugin_update_helper/internal/events"
	"github.com/friendsincode/plugin_update_helper/internal/lock"
	"github.com/friendsincode/plugin_update_helper/internal/options"
	"github.com/friendsincode/plugin_update_helper/internal/scheduler"
	"github.com/friendsincode/plugin_update_helper/internal/seed"
	"github.com/friendsincode/plugin_update_helper/internal/storage"
	"github.com/friendsincode/plugin_update_helper/internal/updates"
	"github.com/friendsincode/plugin_update_helper/internal/webhooks"
)

const (
	redisOptionsNamespace = "updatehelper:options:"
	redisLockPrefix       = "updatehelper:lock:"
)

// Bus is the event bus the services share.
type Bus interface {
	events.Publisher
	audit.Source
}

// Core holds the timer and update services without any HTTP surface. The
// CLI uses it directly for one-shot commands; Server builds on it.
type Core struct {
	cfg     *config.Config
	logger  zerolog.Logger
	closers []func() error

	db    *gorm.DB
	redis redis.UniversalClient
	bus   Bus

	store      options.Store
	list       *updates.List
	checker    *updates.Checker
	downloader *updates.Downloader
	infoCache  *cache.Cache
	runner     *actions.Runner
	manager    *scheduler.Manager
	driver     *scheduler.Driver
	auditSvc   *audit.Service
}

// NewCore connects the configured backends and wires the services.
func NewCore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Core, error) {
	c := &Core{cfg: cfg, logger: logger}
	if err := c.init(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Core) init(ctx context.Context) error {
	if c.cfg.NeedsDatabase() {
		database, err := db.Connect(c.cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		c.DeferClose(func() error { return db.Close(database) })
		if err := db.Migrate(database); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		c.db = database
	}

	// The plugin info cache rides on this client when it exists.
	if c.cfg.NeedsRedis() {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{c.cfg.RedisAddr},
			Password: c.cfg.RedisPassword,
			DB:       c.cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("connect redis %s: %w", c.cfg.RedisAddr, err)
		}
		c.redis = client
		c.DeferClose(client.Close)
	}

	if err := c.initBus(); err != nil {
		return err
	}

	switch c.cfg.OptionsBackend {
	case config.OptionsDB:
		c.store = options.NewGormStore(c.db)
	case config.OptionsRedis:
		c.store = options.NewRedisStore(c.redis, redisOptionsNamespace)
	default:
		c.logger.Warn().Msg("memory options backend in use, timers are lost on restart")
		c.store = options.NewMemoryStore()
	}

	if err := c.initUpdates(ctx); err != nil {
		return err
	}

	c.runner = actions.NewRunner(actions.Deps{
		Publisher:  c.bus,
		Webhooks:   webhooks.NewService(c.logger),
		Checker:    c.checker,
		Downloader: c.downloader,
	}, c.logger)

	c.manager = scheduler.NewManager(c.store, scheduler.DefaultRegistry(), c.logger)
	c.manager.SetPublisher(c.bus)

	var locker lock.Locker = lock.NewLocal()
	if c.cfg.LockBackend == config.LockRedis {
		locker = lock.NewRedis(c.redis, redisLockPrefix)
	}
	c.driver = scheduler.NewDriver(c.manager, c.runner, locker, c.logger)
	c.driver.SetPublisher(c.bus)
	c.driver.SetLockTTL(c.cfg.TimerLockTTL)
	if err := c.driver.SetSchedule(c.cfg.DriverSchedule); err != nil {
		return err
	}

	if c.cfg.HistoryEnabled && c.db != nil {
		c.auditSvc = audit.NewService(c.db, c.bus, c.logger)
	}
	return nil
}

func (c *Core) initBus() error {
	if c.cfg.NATSURL == "" {
		c.bus = events.NewBus()
		return nil
	}
	natsCfg := eventbus.DefaultNATSConfig()
	natsCfg.URL = c.cfg.NATSURL
	natsCfg.Token = c.cfg.NATSToken
	bus, err := eventbus.NewNATSBus(natsCfg, c.logger)
	if err != nil {
		return fmt.Errorf("create nats bus: %w", err)
	}
	c.bus = bus
	c.DeferClose(bus.Close)
	return nil
}

func (c *Core) initUpdates(ctx context.Context) error {
	c.list = updates.NewList()
	client := updates.NewClient(c.cfg.UpdateTimeout, c.logger)

	c.checker = updates.NewChecker(c.list, client, c.store, c.logger)
	c.checker.SetPublisher(c.bus)

	c.infoCache = cache.New(ctx, c.redis, cache.DefaultConfig(), c.logger)
	c.checker.SetInfoCache(c.infoCache)

	var packages storage.ObjectStore
	switch c.cfg.PackageStorage {
	case config.PackageStorageS3:
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			AccessKeyID:     c.cfg.S3AccessKeyID,
			SecretAccessKey: c.cfg.S3SecretAccessKey,
			Region:          c.cfg.S3Region,
			Bucket:          c.cfg.S3Bucket,
			Endpoint:        c.cfg.S3Endpoint,
			UsePathStyle:    c.cfg.S3UsePathStyle,
			Prefix:          "packages/",
		}, c.logger)
		if err != nil {
			return fmt.Errorf("create s3 package store: %w", err)
		}
		packages = s3Store
	default:
		fsStore := storage.NewFSStore(c.cfg.PackageDir, c.logger)
		if err := fsStore.CheckAccess(ctx); err != nil {
			return fmt.Errorf("package directory %s: %w", c.cfg.PackageDir, err)
		}
		packages = fsStore
	}

	c.downloader = updates.NewDownloader(packages, c.cfg.SSLKey, c.cfg.SSLIV, c.cfg.DownloadTimeout, c.logger)
	c.downloader.SetPublisher(c.bus)
	return nil
}

// ApplySeed loads the configured seed file, if any, and applies it.
func (c *Core) ApplySeed(ctx context.Context) error {
	if c.cfg.SeedFile == "" {
		return nil
	}
	file, err := seed.Load(c.cfg.SeedFile)
	if err != nil {
		return err
	}
	res, err := file.Apply(ctx, c.manager, c.list, c.logger)
	if err != nil {
		return fmt.Errorf("apply seed %s: %w", c.cfg.SeedFile, err)
	}
	c.logger.Info().
		Str("path", c.cfg.SeedFile).
		Int("plugins", res.Plugins).
		Int("timers", res.Timers).
		Strs("failed", res.Failed).
		Msg("seed applied")
	return nil
}

// Manager returns the timer manager.
func (c *Core) Manager() *scheduler.Manager { return c.manager }

// Driver returns the tick driver.
func (c *Core) Driver() *scheduler.Driver { return c.driver }

// Checker returns the update checker.
func (c *Core) Checker() *updates.Checker { return c.checker }

// Downloader returns the package downloader.
func (c *Core) Downloader() *updates.Downloader { return c.downloader }

// Runner returns the action runner so callers can register extra handlers.
func (c *Core) Runner() *actions.Runner { return c.runner }

// Bus returns the event bus.
func (c *Core) Bus() Bus { return c.bus }

// DeferClose registers a cleanup hook.
func (c *Core) DeferClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close releases owned resources in reverse order.
func (c *Core) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
