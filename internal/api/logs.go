/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/plugin_update_helper/internal/logbuffer"
)

// handleLogs returns buffered log entries, newest first unless order=asc.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	q := r.URL.Query()
	query := logbuffer.Query{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		TimerID:    q.Get("timer_id"),
		Search:     q.Get("search"),
		Descending: q.Get("order") != "asc",
		Limit:      500,
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			query.Since = t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			query.Limit = n
		}
	}

	entries := a.logBuffer.Find(query)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a.logBuffer.Stats())
}
