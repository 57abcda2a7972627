/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/bragi_flows/internal/logbuffer"
)

// handleLogsQuery returns recent log entries from the in-memory ring,
// newest first. Filters: level, component, q (substring), since
// (RFC 3339), limit.
func (a *API) handleLogsQuery(w http.ResponseWriter, r *http.Request) {
	if a.logs == nil {
		writeError(w, http.StatusNotImplemented, "logs_disabled")
		return
	}

	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("q"),
		Limit:      200,
		Descending: true,
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		params.Since = since
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		params.Limit = limit
	}

	entries := a.logs.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"components": a.logs.Components(),
	})
}

// handleLogsStats reports log buffer occupancy by level.
func (a *API) handleLogsStats(w http.ResponseWriter, r *http.Request) {
	if a.logs == nil {
		writeError(w, http.StatusNotImplemented, "logs_disabled")
		return
	}
	writeJSON(w, http.StatusOK, a.logs.Stats())
}
