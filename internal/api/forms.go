/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/plugin_update_helper/internal/scheduler"
)

func (a *API) handleFormRender(w http.ResponseWriter, r *http.Request) {
	if a.forms == nil {
		writeError(w, http.StatusServiceUnavailable, "forms_unavailable")
		return
	}
	form, err := a.forms.Render(chi.URLParam(r, "group"))
	if err != nil {
		a.logger.Error().Err(err).Msg("render timer form failed")
		writeError(w, http.StatusInternalServerError, "render_failed")
		return
	}
	writeJSON(w, http.StatusOK, form)
}

// handleFormSubmit builds a timer from a form encoded submission and saves
// it. The stored timer, if any, supplies defaults for fields the form leaves
// out. Stored actions are merged in unless merge=false is submitted.
func (a *API) handleFormSubmit(w http.ResponseWriter, r *http.Request) {
	if a.forms == nil || a.manager == nil {
		writeError(w, http.StatusServiceUnavailable, "forms_unavailable")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form")
		return
	}
	if err := a.forms.VerifyNonce(r.PostForm); err != nil {
		writeError(w, http.StatusForbidden, "invalid_nonce")
		return
	}

	group := chi.URLParam(r, "group")
	id := chi.URLParam(r, "timerID")
	ctx := r.Context()

	defaults := scheduler.Options{}
	existing, exists, err := a.manager.Get(ctx, id)
	if err != nil {
		a.logger.Error().Err(err).Str("timer_id", id).Msg("load timer failed")
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	if exists {
		defaults = existing.Options()
	}

	timer, err := a.forms.BuildFromSubmission(group, id, r.PostForm, defaults)
	if err != nil {
		if scheduler.IsValidation(err) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":   "invalid_timer",
				"message": err.Error(),
			})
			return
		}
		a.logger.Error().Err(err).Str("timer_id", id).Msg("build timer failed")
		writeError(w, http.StatusInternalServerError, "build_failed")
		return
	}
	if timer == nil {
		writeError(w, http.StatusBadRequest, "variant_required")
		return
	}

	merge := true
	if v := r.PostForm.Get("merge"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			merge = parsed
		}
	}

	saved, err := a.manager.Save(ctx, timer, merge)
	if err != nil {
		if scheduler.IsValidation(err) || errors.Is(err, scheduler.ErrUnknownVariant) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":   "invalid_timer",
				"message": err.Error(),
			})
			return
		}
		a.logger.Error().Err(err).Str("timer_id", id).Msg("save timer failed")
		writeError(w, http.StatusInternalServerError, "store_error")
		return
	}
	if !saved {
		writeError(w, http.StatusInternalServerError, "timer_not_saved")
		return
	}

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	rec, _, err := a.manager.Get(ctx, id)
	if err != nil {
		writeJSON(w, status, timerResponse{Record: timer.Record()})
		return
	}
	writeJSON(w, status, a.describe(rec, a.now()))
}
