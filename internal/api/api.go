/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/plugin_update_helper/internal/audit"
	"github.com/friendsincode/plugin_update_helper/internal/auth"
	"github.com/friendsincode/plugin_update_helper/internal/logbuffer"
	"github.com/friendsincode/plugin_update_helper/internal/models"
	"github.com/friendsincode/plugin_update_helper/internal/scheduler"
	"github.com/friendsincode/plugin_update_helper/internal/updates"
	"github.com/friendsincode/plugin_update_helper/internal/version"
)

// Ticker runs one evaluation pass over every stored timer.
type Ticker interface {
	Tick(ctx context.Context) (scheduler.TickReport, error)
}

// UpdateService answers the update endpoints. *updates.Checker implements it.
type UpdateService interface {
	Check(ctx context.Context, versions map[string]string) (*updates.Transient, error)
	Cached(ctx context.Context) (*updates.Transient, bool, error)
	Info(ctx context.Context, slug string) (updates.Info, bool)
	List() *updates.List
}

// HistoryService queries the timer history. *audit.Service implements it.
type HistoryService interface {
	Query(ctx context.Context, filters audit.QueryFilters) ([]models.AuditLog, int64, error)
}

// Deps are the services behind the API. Nil members turn their endpoints
// into 503 responses.
type Deps struct {
	Manager        *scheduler.Manager
	Forms          *scheduler.FormBuilder
	Ticker         Ticker
	Updates        UpdateService
	History        HistoryService
	LogBuffer      *logbuffer.Buffer
	AdminTokenHash string
}

// API exposes HTTP handlers.
type API struct {
	manager        *scheduler.Manager
	forms          *scheduler.FormBuilder
	ticker         Ticker
	updates        UpdateService
	history        HistoryService
	logBuffer      *logbuffer.Buffer
	adminTokenHash string
	logger         zerolog.Logger
	now            func() time.Time
}

// New creates the API router wrapper.
func New(deps Deps, logger zerolog.Logger) *API {
	return &API{
		manager:        deps.Manager,
		forms:          deps.Forms,
		ticker:         deps.Ticker,
		updates:        deps.Updates,
		history:        deps.History,
		logBuffer:      deps.LogBuffer,
		adminTokenHash: deps.AdminTokenHash,
		logger:         logger.With().Str("component", "api").Logger(),
		now:            time.Now,
	}
}

// Routes registers API routes on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/timers", func(r chi.Router) {
			r.Get("/", a.handleTimersList)
			r.Route("/{timerID}", func(r chi.Router) {
				r.Get("/", a.handleTimersGet)
				r.Get("/history", a.handleTimerHistory)
				r.With(a.admin()).Delete("/", a.handleTimersDelete)
			})
		})

		r.Route("/forms/{group}", func(r chi.Router) {
			r.Get("/", a.handleFormRender)
			r.With(a.admin()).Post("/timers/{timerID}", a.handleFormSubmit)
		})

		r.Route("/updates", func(r chi.Router) {
			r.Get("/", a.handleUpdatesList)
			r.With(a.admin()).Post("/check", a.handleUpdatesCheck)
			r.Get("/{slug}", a.handleUpdateInfo)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(a.admin())
			pr.Post("/scheduler/tick", a.handleSchedulerTick)
			pr.Get("/history", a.handleHistoryList)
			pr.Get("/logs", a.handleLogs)
			pr.Get("/logs/stats", a.handleLogStats)
		})
	})
}

func (a *API) admin() func(http.Handler) http.Handler {
	return auth.AdminMiddleware(a.adminTokenHash)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (a *API) handleSchedulerTick(w http.ResponseWriter, r *http.Request) {
	if a.ticker == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable")
		return
	}
	report, err := a.ticker.Tick(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("manual tick failed")
		writeError(w, http.StatusInternalServerError, "tick_failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
