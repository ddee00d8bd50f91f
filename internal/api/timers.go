/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/plugin_update_helper/internal/audit"
	"github.com/friendsincode/plugin_update_helper/internal/models"
	"github.com/friendsincode/plugin_update_helper/internal/scheduler"
)

// timerResponse is a stored record plus its schedule position.
type timerResponse struct {
	scheduler.Record
	State   scheduler.State `json:"state,omitempty"`
	NextRun *time.Time      `json:"next_run,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (a *API) describe(rec scheduler.Record, now time.Time) timerResponse {
	resp := timerResponse{Record: rec}
	t, err := a.manager.Registry().FromRecord(rec, now)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.State = scheduler.StateOf(t, now)
	if next, ok := t.NextRun(); ok {
		resp.NextRun = &next
	}
	return resp
}

func (a *API) handleTimersList(w http.ResponseWriter, r *http.Request) {
	if a.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable")
		return
	}
	records, err := a.manager.List(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list timers failed")
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	now := a.now()
	out := make([]timerResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, a.describe(rec, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timers": out,
		"count":  len(out),
	})
}

func (a *API) handleTimersGet(w http.ResponseWriter, r *http.Request) {
	if a.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable")
		return
	}
	id := chi.URLParam(r, "timerID")
	rec, ok, err := a.manager.Get(r.Context(), id)
	if err != nil {
		a.logger.Error().Err(err).Str("timer_id", id).Msg("get timer failed")
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "timer_not_found")
		return
	}
	writeJSON(w, http.StatusOK, a.describe(rec, a.now()))
}

func (a *API) handleTimersDelete(w http.ResponseWriter, r *http.Request) {
	if a.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable")
		return
	}
	id := chi.URLParam(r, "timerID")
	deleted, err := a.manager.Delete(r.Context(), id)
	if err != nil {
		a.logger.Error().Err(err).Str("timer_id", id).Msg("delete timer failed")
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "timer_not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleTimerHistory(w http.ResponseWriter, r *http.Request) {
	filters := parseHistoryFilters(r)
	filters.TimerID = chi.URLParam(r, "timerID")
	a.writeHistory(w, r, filters)
}

func (a *API) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	a.writeHistory(w, r, parseHistoryFilters(r))
}

func (a *API) writeHistory(w http.ResponseWriter, r *http.Request, filters audit.QueryFilters) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history_unavailable")
		return
	}
	entries, total, err := a.history.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to query timer history")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": toHistoryResponse(entries),
		"total":   total,
		"limit":   filters.Limit,
		"offset":  filters.Offset,
	})
}

type historyEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	TimerID   string         `json:"timer_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func toHistoryResponse(logs []models.AuditLog) []historyEntry {
	out := make([]historyEntry, len(logs))
	for i, l := range logs {
		out[i] = historyEntry{
			ID:        l.ID,
			Timestamp: l.Timestamp,
			Action:    string(l.Action),
			TimerID:   l.TimerID,
			Details:   l.Details,
		}
	}
	return out
}

func parseHistoryFilters(r *http.Request) audit.QueryFilters {
	q := r.URL.Query()
	filters := audit.QueryFilters{Limit: 100}

	if action := q.Get("action"); action != "" {
		filters.Action = models.AuditAction(action)
	}
	if startTime := q.Get("start_time"); startTime != "" {
		if t, err := time.Parse(time.RFC3339, startTime); err == nil {
			filters.StartTime = &t
		}
	}
	if endTime := q.Get("end_time"); endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			filters.EndTime = &t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n <= 1000 {
			filters.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			filters.Offset = n
		}
	}
	return filters
}
