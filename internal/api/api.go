/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/actions"
	"github.com/friendsincode/bragi_flows/internal/audit"
	"github.com/friendsincode/bragi_flows/internal/auth"
	"github.com/friendsincode/bragi_flows/internal/cache"
	"github.com/friendsincode/bragi_flows/internal/dispatch"
	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/flows"
	"github.com/friendsincode/bragi_flows/internal/logbuffer"
	"github.com/friendsincode/bragi_flows/internal/parser"
	"github.com/friendsincode/bragi_flows/internal/webhooks"
)

// API exposes HTTP handlers.
type API struct {
	flows      *flows.Service
	dispatcher *dispatch.Dispatcher
	parser     parser.Parser
	cache      *cache.Cache
	audit      *audit.Service
	webhooks   *webhooks.Service
	logs       *logbuffer.Buffer
	bus        events.Broker
	defaults   actions.Defaults
	jwtSecret  []byte
	logger     zerolog.Logger
}

// New creates the API router wrapper. Parser, cache, audit, webhooks,
// and the log buffer may be nil; the matching endpoints degrade
// gracefully.
func New(flowSvc *flows.Service, dispatcher *dispatch.Dispatcher, p parser.Parser, c *cache.Cache, auditSvc *audit.Service, webhookSvc *webhooks.Service, logs *logbuffer.Buffer, bus events.Broker, defaults actions.Defaults, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		flows:      flowSvc,
		dispatcher: dispatcher,
		parser:     p,
		cache:      c,
		audit:      auditSvc,
		webhooks:   webhookSvc,
		logs:       logs,
		bus:        bus,
		defaults:   defaults,
		jwtSecret:  jwtSecret,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Route("/flows", func(r chi.Router) {
				r.Get("/", a.handleFlowsList)
				r.Post("/", a.handleFlowCreate)
				r.Post("/parse-description", a.handleParseDescription)
				r.Get("/upcoming", a.handleUpcoming)
				r.Get("/export.ics", a.handleUpcomingICal)

				r.Route("/{flowID}", func(r chi.Router) {
					r.Get("/", a.handleFlowGet)
					r.Patch("/", a.handleFlowUpdate)
					r.Delete("/", a.handleFlowDelete)
					r.Post("/toggle", a.handleFlowToggle)
					r.Post("/run", a.handleFlowRun)
					r.Post("/stop", a.handleFlowStop)
					r.Get("/simulate", a.handleFlowSimulate)
					r.Get("/runs", a.handleFlowRuns)

					r.Route("/actions", func(r chi.Router) {
						r.Post("/", a.handleActionAdd)
						r.Post("/reorder", a.handleActionReorder)
						r.Delete("/{index}", a.handleActionRemove)
					})
				})
			})

			pr.Post("/sweep", a.handleSweep)
			pr.Get("/audit", a.handleAuditQuery)

			pr.Route("/logs", func(r chi.Router) {
				r.Get("/", a.handleLogsQuery)
				r.Get("/stats", a.handleLogsStats)
			})

			pr.Route("/webhooks", func(r chi.Router) {
				r.Get("/", a.handleWebhookList)
				r.Post("/", a.handleWebhookCreate)
				r.Delete("/{webhookID}", a.handleWebhookDelete)
				r.Post("/{webhookID}/test", a.handleWebhookTest)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeFlowError maps the flow service error taxonomy to HTTP statuses:
// validation 422, conflict 409 with the conflict list, invalid state 423,
// not found 404.
func (a *API) writeFlowError(w http.ResponseWriter, err error) {
	var (
		validationErr   *flows.ValidationError
		conflictErr     *flows.ConflictError
		invalidStateErr *flows.InvalidStateError
		notFoundErr     *flows.NotFoundError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation_failed",
			"reason": validationErr.Reason,
		})
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "schedule_conflict",
			"conflicts": conflictErr.Conflicts,
		})
	case errors.As(err, &invalidStateErr):
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":  "invalid_state",
			"status": string(invalidStateErr.Status),
			"op":     invalidStateErr.Op,
		})
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, "not_found")
	default:
		a.logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
