// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the engine over HTTP: decisions, coverage grids, rule
// authoring and operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ManuGH/timegate/internal/api/middleware"
	"github.com/ManuGH/timegate/internal/engine"
	"github.com/ManuGH/timegate/internal/evaluator"
	"github.com/ManuGH/timegate/internal/index"
	"github.com/ManuGH/timegate/internal/log"
	"github.com/ManuGH/timegate/internal/schedule"
	"github.com/ManuGH/timegate/internal/store"
	"github.com/ManuGH/timegate/internal/usage"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Engine is the part of *engine.Engine the HTTP layer drives.
type Engine interface {
	Evaluate(subjectKey string, now time.Time) evaluator.Decision
	SubjectCoverage(ctx context.Context, key string) (schedule.Grid, error)
	AuthorRules(ctx context.Context, key string, p schedule.Pattern, w schedule.Window, b schedule.Budget) ([]schedule.Rule, error)
	NotifyRulesChanged()
	RebuildNow(ctx context.Context) (*index.Snapshot, error)
	Healthy() error
	Stats() engine.Stats
}

// Config carries the server's dependencies and tuning.
type Config struct {
	Engine Engine
	Store  store.RuleStore
	// Recorder is optional; without it the usage endpoint answers 501.
	Recorder usage.Recorder

	RateLimitPerMinute int
	TracingService     string
}

// Server routes HTTP requests to the engine and the rule store.
type Server struct {
	engine   Engine
	store    store.RuleStore
	recorder usage.Recorder
	logger   zerolog.Logger
	now      func() time.Time
	router   chi.Router
}

func New(cfg Config) *Server {
	s := &Server{
		engine:   cfg.Engine,
		store:    cfg.Store,
		recorder: cfg.Recorder,
		logger:   log.WithComponent("api"),
		now:      time.Now,
	}
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		EnableLogging:         true,
		TracingService:        cfg.TracingService,
		RateLimitPerMinute:    cfg.RateLimitPerMinute,
	})
	s.routes(r)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/index", s.handleIndexStats)
		r.Post("/index/rebuild", s.handleIndexRebuild)

		r.Get("/subjects", s.handleListSubjects)
		r.Route("/subjects/{key}", func(r chi.Router) {
			r.Use(subjectContext)
			r.Put("/", s.handlePutSubject)
			r.Delete("/", s.handleDeleteSubject)
			r.Get("/rules", s.handleListRules)
			r.Post("/rules", s.handleCreateRules)
			r.Get("/decision", s.handleDecision)
			r.Get("/coverage", s.handleCoverage)
			r.Post("/usage", s.handleRecordUsage)
		})
		r.Delete("/rules/{id}", s.handleDeleteRule)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, problemNotFound, "Not Found", "NOT_FOUND", "no route for "+r.URL.Path, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, problemBadRequest, "Method Not Allowed", "METHOD_NOT_ALLOWED", "", nil)
	})
}

// subjectContext tags the request context with the {key} path parameter so
// handler logs carry it.
func subjectContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.ContextWithSubjectKey(r.Context(), chi.URLParam(r, "key"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// NewHTTPServer wraps h with the timeouts the daemon listens with.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
