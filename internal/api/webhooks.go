/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type webhookCreateRequest struct {
	URL    string `json:"url"`
	Events string `json:"events,omitempty"`
}

func (a *API) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	if a.webhooks == nil {
		writeError(w, http.StatusNotImplemented, "webhooks_disabled")
		return
	}
	targets, err := a.webhooks.ListTargets(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("webhook list failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
}

func (a *API) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	if a.webhooks == nil {
		writeError(w, http.StatusNotImplemented, "webhooks_disabled")
		return
	}
	var req webhookCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid_url")
		return
	}

	target, err := a.webhooks.CreateTarget(r.Context(), req.URL, req.Events)
	if err != nil {
		a.logger.Error().Err(err).Msg("webhook create failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	// The signing secret is returned once, on creation only.
	writeJSON(w, http.StatusCreated, map[string]any{
		"target": target,
		"secret": target.Secret,
	})
}

func (a *API) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	if a.webhooks == nil {
		writeError(w, http.StatusNotImplemented, "webhooks_disabled")
		return
	}
	err := a.webhooks.DeleteTarget(r.Context(), chi.URLParam(r, "webhookID"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("webhook delete failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	if a.webhooks == nil {
		writeError(w, http.StatusNotImplemented, "webhooks_disabled")
		return
	}
	target, err := a.webhooks.GetTarget(r.Context(), chi.URLParam(r, "webhookID"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("webhook lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	if err := a.webhooks.Test(r.Context(), target); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  "delivery_failed",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}
