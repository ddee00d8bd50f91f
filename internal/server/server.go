/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/plugin_update_helper/internal/api"
	"github.com/friendsincode/plugin_update_helper/internal/auth"
	"github.com/friendsincode/plugin_update_helper/internal/config"
	"github.com/friendsincode/plugin_update_helper/internal/db"
	"github.com/friendsincode/plugin_update_helper/internal/events"
	"github.com/friendsincode/plugin_update_helper/internal/leadership"
	"github.com/friendsincode/plugin_update_helper/internal/logbuffer"
	"github.com/friendsincode/plugin_update_helper/internal/scheduler"
	"github.com/friendsincode/plugin_update_helper/internal/telemetry"
	"github.com/friendsincode/plugin_update_helper/internal/version"
)

const (
	electionKey          = "updatehelper:leader:driver"
	historyPruneInterval = 6 * time.Hour
)

// Server bundles HTTP and supporting services.
type Server struct {
	*Core

	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	logBuffer     *logbuffer.Buffer
	api           *api.API
	leaderAware   *scheduler.LeaderAwareDriver

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server, wires dependencies and starts the background workers.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}
	if cfg.AdminTokenHash == "" {
		logger.Warn().Msg("PUH_ADMIN_TOKEN_HASH not set, write endpoints are open")
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("updatehelper-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	ctx := context.Background()
	core, err := NewCore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		Core:      core,
		router:    router,
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(ctx); err != nil {
		_ = core.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.MetricsBind != "" {
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           telemetry.Handler(),
			ReadHeaderTimeout: 15 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(ctx context.Context) error {
	if err := s.ApplySeed(ctx); err != nil {
		return err
	}
	if s.cfg.SeedFile != "" {
		// the seed may point plugins at different update servers
		s.infoCache.InvalidateAll(ctx)
	}

	if s.cfg.LeaderElectionEnabled {
		election := leadership.NewElection(s.redis, leadership.ElectionConfig{
			ElectionKey:     electionKey,
			LeaseDuration:   15 * time.Second,
			RenewalInterval: 5 * time.Second,
			InstanceID:      s.cfg.InstanceID,
		}, s.logger)

		s.leaderAware = scheduler.NewLeaderAware(s.driver, election, s.logger)

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", election.InstanceID()).
			Msg("leader election enabled for driver")
	}

	nonces := auth.NewNonces([]byte(s.cfg.NonceSecret), s.cfg.NonceTTL)

	deps := api.Deps{
		Manager:        s.manager,
		Forms:          scheduler.NewFormBuilder(s.manager.Registry(), nonces),
		Ticker:         s.driver,
		Updates:        s.checker,
		LogBuffer:      s.logBuffer,
		AdminTokenHash: s.cfg.AdminTokenHash,
	}
	if s.auditSvc != nil {
		deps.History = s.auditSvc
	}
	s.api = api.New(deps, s.logger)
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer returns the dedicated metrics listener, or nil when metrics
// are served on the main router.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// LogBuffer returns the server's log buffer.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close stops the background workers and releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	if s.leaderAware != nil {
		if err := s.leaderAware.Stop(); err != nil {
			s.logger.Error().Err(err).Msg("leader-aware driver stop failed")
		}
	}
	return s.Core.Close()
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Start the driver (leader-aware if configured, otherwise direct)
	if s.leaderAware != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAware.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware driver exited")
			}
		}()
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("driver loop exited")
			}
		}()
	}

	// Start database metrics updater
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	if s.auditSvc != nil {
		s.auditSvc.Start(ctx)

		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runHistoryPruner(ctx)
		}()
	}

	if s.infoCache.IsAvailable() {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runHistoryPruner drops history rows older than the retention window.
func (s *Server) runHistoryPruner(ctx context.Context) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.auditSvc.Prune(ctx, s.cfg.HistoryRetention)
			if err != nil {
				s.logger.Warn().Err(err).Msg("history prune failed")
				continue
			}
			if n > 0 {
				s.logger.Info().Int64("deleted", n).Msg("pruned timer history")
			}
		}
	}
}

// runCacheInvalidationListener drops cached plugin info once a newer
// version has been announced, so the next lookup reaches the update server.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	available := s.bus.Subscribe(events.EventUpdateAvailable)
	defer s.bus.Unsubscribe(events.EventUpdateAvailable, available)

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case payload, ok := <-available:
			if !ok {
				return
			}
			if slug, ok := payload["slug"].(string); ok && slug != "" {
				s.logger.Debug().Str("slug", slug).Msg("invalidating plugin info cache (update available)")
				s.infoCache.InvalidatePluginInfo(ctx, slug)
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status":  "ok",
			"version": version.Version,
		}
		if s.leaderAware != nil {
			resp["leader"] = s.leaderAware.IsLeader()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})

	if s.cfg.MetricsBind == "" {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)
}
