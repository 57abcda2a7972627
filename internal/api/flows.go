/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bragi_flows/internal/actions"
	"github.com/friendsincode/bragi_flows/internal/cache"
	"github.com/friendsincode/bragi_flows/internal/dispatch"
	"github.com/friendsincode/bragi_flows/internal/flows"
	"github.com/friendsincode/bragi_flows/internal/schedule"
)

func (a *API) handleFlowsList(w http.ResponseWriter, r *http.Request) {
	list, err := a.flows.List(r.Context())
	if err != nil {
		a.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleFlowCreate(w http.ResponseWriter, r *http.Request) {
	var draft flows.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	flow, err := a.flows.Create(r.Context(), draft)
	if err != nil {
		a.writeFlowError(w, err)
		return
	}

	a.invalidateScheduleCache(r)
	writeJSON(w, http.StatusCreated, flow)
}

func (a *API) handleFlowGet(w http.ResponseWriter, r *http.Request) {
	flow, err := a.flows.Get(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		a.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (a *API) handleFlowUpdate(w http.ResponseWriter, r *http.Request) {
	var patch flows.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	flow, err := a.flows.Update(r.Context(), chi.URLParam(r, "flowID"), patch)
	if err != nil {
		a.writeFlowError(w, err)
		return
	}

	a.invalidateScheduleCache(r)
	writeJSON(w, http.StatusOK, flow)
}

func (a *API) handleFlowDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.flows.Delete(r.Context(), chi.URLParam(r, "flowID")); err != nil {
		a.writeFlowError(w, err)
		return
	}
	a.invalidateScheduleCache(r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleFlowToggle(w http.ResponseWriter, r *http.Request) {
	flow, err := a.flows.Toggle(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		a.writeFlowError(w, err)
		return
	}
	a.invalidateScheduleCache(r)
	writeJSON(w, http.StatusOK, flow)
}

type runRequest struct {
	DryRun bool `json:"dry_run"`
}

// handleFlowRun triggers playback manually. With dry_run the timeline is
// walked without timers or writes and the emissions are returned to the
// caller instead of the playback channel.
func (a *API) handleFlowRun(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")

	var req runRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	if req.DryRun {
		flow, err := a.flows.Get(r.Context(), flowID)
		if err != nil {
			a.writeFlowError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dispatch.Simulate(flow, a.defaults, 0))
		return
	}

	if err := a.dispatcher.RunManual(r.Context(), flowID); err != nil {
		a.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (a *API) handleFlowStop(w http.ResponseWriter, r *http.Request) {
	if !a.dispatcher.Stop(chi.URLParam(r, "flowID")) {
		writeError(w, http.StatusNotFound, "not_running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

// handleFlowSimulate previews the flow's timeline. An optional
// end_bound_seconds query bounds looping sequences.
func (a *API) handleFlowSimulate(w http.ResponseWriter, r *http.Request) {
	flow, err := a.flows.Get(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		a.writeFlowError(w, err)
		return
	}

	var endBound time.Duration
	if raw := r.URL.Query().Get("end_bound_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, "invalid_end_bound")
			return
		}
		endBound = time.Duration(secs) * time.Second
	}

	writeJSON(w, http.StatusOK, dispatch.Simulate(flow, a.defaults, endBound))
}

func (a *API) handleFlowRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	runs, err := a.flows.Runs(r.Context(), chi.URLParam(r, "flowID"), limit)
	if err != nil {
		a.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type actionAddRequest struct {
	Action  json.RawMessage `json:"action"`
	AtIndex *int            `json:"at_index,omitempty"`
}

func (a *API) handleActionAdd(w http.ResponseWriter, r *http.Request) {
	var req actionAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Action) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	action, err := actions.Decode(req.Action)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  "validation_failed",
			"reason": err.Error(),
		})
		return
	}

	atIndex := -1
	if req.AtIndex != nil {
		atIndex = *req.AtIndex
	}

	flow, err := a.flows.AddAction(r.Context(), chi.URLParam(r, "flowID"), action, atIndex)
	if err != nil {
		a.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

type reorderRequest struct {
	FromIndex int `json:"from_index"`
	ToIndex   int `json:"to_index"`
}

func (a *API) handleActionReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	flow, err := a.flows.ReorderActions(r.Context(), chi.URLParam(r, "flowID"), req.FromIndex, req.ToIndex)
	if err != nil {
		a.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (a *API) handleActionRemove(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index")
		return
	}

	flow, err := a.flows.RemoveAction(r.Context(), chi.URLParam(r, "flowID"), index)
	if err != nil {
		a.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// handleUpcoming returns expanded occurrences over the requested horizon
// (default 24h). Results are served from cache when available.
func (a *API) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	horizon := 24 * time.Hour
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 || hours > 24*90 {
			writeError(w, http.StatusBadRequest, "invalid_hours")
			return
		}
		horizon = time.Duration(hours) * time.Hour
	}

	if a.cache != nil && horizon == 24*time.Hour {
		if cached, ok := a.cache.GetUpcoming(r.Context()); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	upcoming, err := a.flows.Upcoming(r.Context(), time.Now().UTC(), horizon)
	if err != nil {
		a.writeFlowError(w, err)
		return
	}

	if a.cache != nil && horizon == 24*time.Hour {
		cached := make([]cache.CachedOccurrence, 0, len(upcoming))
		for _, occ := range upcoming {
			cached = append(cached, cache.CachedOccurrence(occ))
		}
		if err := a.cache.SetUpcoming(r.Context(), cached); err != nil {
			a.logger.Debug().Err(err).Msg("caching upcoming view failed")
		}
	}
	writeJSON(w, http.StatusOK, upcoming)
}

// handleUpcomingICal serves the upcoming occurrence view as an
// iCalendar feed, for subscription from calendar clients.
func (a *API) handleUpcomingICal(w http.ResponseWriter, r *http.Request) {
	horizon := 7 * 24 * time.Hour
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 || hours > 24*90 {
			writeError(w, http.StatusBadRequest, "invalid_hours")
			return
		}
		horizon = time.Duration(hours) * time.Hour
	}

	upcoming, err := a.flows.Upcoming(r.Context(), time.Now().UTC(), horizon)
	if err != nil {
		a.writeFlowError(w, err)
		return
	}

	data := schedule.ExportICal("Bragi Flows", upcoming, time.Now().UTC())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="bragi-flows.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type parseDescriptionRequest struct {
	Text string `json:"text"`
}

// handleParseDescription feeds free text through the external parser and
// returns action drafts. Disabled when no parser endpoint is configured.
func (a *API) handleParseDescription(w http.ResponseWriter, r *http.Request) {
	if a.parser == nil {
		writeError(w, http.StatusNotImplemented, "parser_not_configured")
		return
	}

	var req parseDescriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text_required")
		return
	}

	parsed, err := a.parser.ParseDescription(r.Context(), req.Text)
	if err != nil {
		a.logger.Warn().Err(err).Msg("parse description failed")
		writeError(w, http.StatusBadGateway, "parse_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": parsed})
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := a.flows.Sweep(r.Context())
	if err != nil {
		a.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) invalidateScheduleCache(r *http.Request) {
	if a.cache == nil {
		return
	}
	if err := a.cache.InvalidateSchedule(r.Context()); err != nil {
		a.logger.Debug().Err(err).Msg("schedule cache invalidation failed")
	}
}
