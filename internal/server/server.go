/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_flows/internal/api"
	"github.com/friendsincode/bragi_flows/internal/audit"
	"github.com/friendsincode/bragi_flows/internal/cache"
	"github.com/friendsincode/bragi_flows/internal/config"
	"github.com/friendsincode/bragi_flows/internal/conflict"
	"github.com/friendsincode/bragi_flows/internal/content"
	"github.com/friendsincode/bragi_flows/internal/db"
	"github.com/friendsincode/bragi_flows/internal/dispatch"
	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/eventbus"
	"github.com/friendsincode/bragi_flows/internal/flows"
	"github.com/friendsincode/bragi_flows/internal/leadership"
	"github.com/friendsincode/bragi_flows/internal/logbuffer"
	"github.com/friendsincode/bragi_flows/internal/parser"
	"github.com/friendsincode/bragi_flows/internal/store"
	"github.com/friendsincode/bragi_flows/internal/telemetry"
	"github.com/friendsincode/bragi_flows/internal/version"
	"github.com/friendsincode/bragi_flows/internal/webhooks"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	logBuf     *logbuffer.Buffer
	router     chi.Router
	httpServer *http.Server
	metricsSrv *http.Server
	closers    []func() error

	db         *gorm.DB
	cache      *cache.Cache
	bus        events.Broker
	localBus   *events.Bus
	election   *leadership.Election
	audit      *audit.Service
	webhooks   *webhooks.Service
	flows      *flows.Service
	dispatcher *dispatch.Dispatcher
	parser     parser.Parser
	api        *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. logBuf may be nil
// when log capture is not wanted (tests, one-shot commands).
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("bragi-flows-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		logBuf: logBuf,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep header deadline to protect against slowloris; the middleware
		// timeout (60s) covers full requests.
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
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

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	s.localBus = events.NewBus()
	s.bus = s.localBus

	// Multi-instance event bridges. NATS wins when configured; otherwise a
	// Redis bridge carries events between instances that share an InstanceID
	// namespace. Both degrade to in-memory delivery when unreachable.
	switch {
	case s.cfg.NATSURL != "":
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.Token = s.cfg.NATSToken
		natsBus, err := eventbus.NewNATSBus(natsCfg, s.localBus, s.logger)
		if err != nil {
			return fmt.Errorf("create NATS event bridge: %w", err)
		}
		s.bus = natsBus
		s.DeferClose(natsBus.Close)
	case s.cfg.InstanceID != "":
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		redisBus, err := eventbus.NewRedisBus(redisCfg, s.localBus, s.logger)
		if err != nil {
			return fmt.Errorf("create Redis event bridge: %w", err)
		}
		s.bus = redisBus
		s.DeferClose(redisBus.Close)
	}

	// Multi-instance deployments elect a single dispatch leader so the
	// schedule fires exactly once across the fleet.
	if s.cfg.InstanceID != "" {
		electionCfg := leadership.DefaultConfig()
		electionCfg.RedisAddr = s.cfg.RedisAddr
		electionCfg.RedisPassword = s.cfg.RedisPassword
		electionCfg.RedisDB = s.cfg.RedisDB
		electionCfg.InstanceID = s.cfg.InstanceID
		election, err := leadership.NewElection(electionCfg, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.election = election
		s.DeferClose(election.Stop)
	}

	// Redis cache for hot read paths; requests fall through to the
	// database when it is absent.
	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	st := store.NewGormStore(database)
	detector := conflict.NewDetector(s.logger)
	resolver := content.NewResolver(st, s.logger)
	s.flows = flows.New(st, detector, s.bus, s.cfg.PlanningHorizon(), s.logger)
	s.dispatcher = dispatch.New(s.flows, s.bus, resolver, s.cfg.ActionDefaults(), s.logger)
	s.audit = audit.NewService(database, s.bus, s.logger)
	s.webhooks = webhooks.NewService(database, s.bus, s.logger)

	if s.cfg.ParserEndpoint != "" {
		s.parser = parser.NewHTTPParser(s.cfg.ParserEndpoint, s.logger)
	}

	s.api = api.New(s.flows, s.dispatcher, s.parser, s.cache, s.audit, s.webhooks, s.logBuf, s.bus, s.cfg.ActionDefaults(), []byte(s.cfg.JWTSigningKey), s.logger)
	return nil
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.election != nil {
		s.election.Start(ctx)
	}

	if s.cfg.DispatchEnabled {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runLeaderTask(ctx, "dispatcher", s.dispatcher.Run)
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runLeaderTask(ctx, "sweep", func(ctx context.Context) error {
			s.flows.RunNightlySweep(ctx, s.cfg.SweepInterval)
			return nil
		})
	}()

	// The audit recorder and webhook delivery follow the leader so
	// bridged events land exactly once across a fleet.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runLeaderTask(ctx, "audit", s.audit.Run)
	}()
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runLeaderTask(ctx, "webhooks", s.webhooks.Run)
	}()

	// Database metrics updater
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

	if s.cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		s.metricsSrv = &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 15 * time.Second,
		}
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Str("addr", s.cfg.MetricsBind).Msg("metrics listener exited")
			}
		}()
	}
}

// runLeaderTask runs fn for the lifetime of ctx on single-instance
// deployments, or only while this instance holds the leader lease on
// multi-instance ones.
func (s *Server) runLeaderTask(ctx context.Context, name string, fn func(context.Context) error) {
	if s.election == nil {
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Str("task", name).Msg("background task exited")
		}
		return
	}
	leadership.RunWhenLeader(ctx, s.election, name, s.logger, fn)
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.metricsSrv.Shutdown(ctx)
		cancel()
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}

// HTTPServer returns the configured HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
