/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/plugin_update_helper/internal/updates"
)

type updatesResponse struct {
	Plugins     []updates.Plugin  `json:"plugins"`
	LastChecked int64             `json:"last_checked,omitempty"`
	Available   []updates.Update  `json:"available"`
	Checked     map[string]string `json:"checked,omitempty"`
}

func newUpdatesResponse(list *updates.List, t *updates.Transient) updatesResponse {
	resp := updatesResponse{Available: []updates.Update{}}
	if list != nil {
		resp.Plugins = list.Plugins()
	}
	if t != nil {
		resp.LastChecked = t.LastChecked
		resp.Available = t.Available()
		resp.Checked = t.Checked
	}
	return resp
}

// handleUpdatesList returns the registered plugins and the last stored check.
func (a *API) handleUpdatesList(w http.ResponseWriter, r *http.Request) {
	if a.updates == nil {
		writeError(w, http.StatusServiceUnavailable, "updates_unavailable")
		return
	}
	cached, _, err := a.updates.Cached(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("read update transient failed")
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	writeJSON(w, http.StatusOK, newUpdatesResponse(a.updates.List(), cached))
}

// handleUpdatesCheck runs a check now. The optional JSON body maps plugin
// files to installed versions; registered versions are used otherwise.
func (a *API) handleUpdatesCheck(w http.ResponseWriter, r *http.Request) {
	if a.updates == nil {
		writeError(w, http.StatusServiceUnavailable, "updates_unavailable")
		return
	}
	var req struct {
		Versions map[string]string `json:"versions"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
	}

	result, err := a.updates.Check(r.Context(), req.Versions)
	if err != nil {
		a.logger.Error().Err(err).Msg("update check failed")
		writeError(w, http.StatusInternalServerError, "check_failed")
		return
	}
	writeJSON(w, http.StatusOK, newUpdatesResponse(a.updates.List(), result))
}

func (a *API) handleUpdateInfo(w http.ResponseWriter, r *http.Request) {
	if a.updates == nil {
		writeError(w, http.StatusServiceUnavailable, "updates_unavailable")
		return
	}
	slug := chi.URLParam(r, "slug")
	if _, ok := a.updates.List().Get(slug); !ok {
		writeError(w, http.StatusNotFound, "plugin_not_registered")
		return
	}
	info, ok := a.updates.Info(r.Context(), slug)
	if !ok {
		writeError(w, http.StatusBadGateway, "update_server_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, info)
}
