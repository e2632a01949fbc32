// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP control surface: it submits executions to the
// facade, tracks them in the history and streams their events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/ffav/internal/abort"
	"github.com/ManuGH/ffav/internal/api/middleware"
	"github.com/ManuGH/ffav/internal/bus"
	"github.com/ManuGH/ffav/internal/ffmpeg"
	"github.com/ManuGH/ffav/internal/health"
	"github.com/ManuGH/ffav/internal/history"
	"github.com/ManuGH/ffav/internal/log"
)

// Executor is the part of the execution facade the server drives.
type Executor interface {
	Execute(ctx context.Context, commands []string, opts ffmpeg.Options) error
	Cancel(id int64)
}

// History persists execution records. *history.Store implements it.
type History interface {
	Start(ctx context.Context, id int64, commands []string) error
	Finish(ctx context.Context, id int64, result error) error
	Get(ctx context.Context, id int64) (*history.Record, error)
	List(ctx context.Context, limit int) ([]history.Record, error)
}

// Config tunes the HTTP surface.
type Config struct {
	// RateLimit bounds execution submissions per RateWindow and client IP;
	// zero disables it.
	RateLimit  int
	RateWindow time.Duration
	// TracingService names the otelhttp server spans; empty disables them.
	TracingService string
	Version        string
	// KeepAlive is the SSE comment interval; zero selects 15s.
	KeepAlive time.Duration
	// Checks are added to the readiness report after the server's own
	// "executions" check.
	Checks []health.Checker
}

// Server is an http.Handler. Close stops it from accepting executions and
// cancels the running ones.
type Server struct {
	exec   Executor
	hist   History
	bus    *bus.MemoryBus
	cfg    Config
	logger zerolog.Logger
	router chi.Router
	health *health.Manager

	mu     sync.Mutex
	jobs   map[int64]*job
	nextID int64
	closed bool
	wg     sync.WaitGroup
}

// job is an execution submitted through this server and not finished yet.
type job struct {
	rec history.Record
	ctl *abort.Controller
}

// New builds the server. hist may be nil, in which case only running
// executions can be looked up.
func New(exec Executor, hist History, b *bus.MemoryBus, cfg Config) *Server {
	if b == nil {
		b = bus.NewMemoryBus(bus.DefaultBuffer)
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}
	s := &Server{
		exec:   exec,
		hist:   hist,
		bus:    b,
		cfg:    cfg,
		logger: log.WithComponent("api"),
		jobs:   make(map[int64]*job),
		health: health.NewManager(cfg.Version),
	}
	s.health.Register(health.Func("executions", s.checkAccepting))
	s.health.Register(cfg.Checks...)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/executions", func(r chi.Router) {
		r.With(middleware.RateLimit(middleware.RateLimitConfig{
			RequestLimit: s.cfg.RateLimit,
			WindowSize:   s.cfg.RateWindow,
		})).Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Delete("/{id}", s.handleCancel)
		r.Get("/{id}/events", s.handleEvents)
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Running reports the number of executions in flight.
func (s *Server) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Close rejects new submissions, aborts running executions and waits for
// them to be recorded, or for ctx.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, j := range s.jobs {
		j.ctl.Abort(ErrShuttingDown)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkAccepting turns unready once Close was called.
func (s *Server) checkAccepting(context.Context) health.CheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "shutting down"}
	}
	return health.CheckResult{Status: health.StatusHealthy, Message: fmt.Sprintf("%d running", len(s.jobs))}
}
