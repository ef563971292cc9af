// Package server exposes the worker pool over a JSON REST API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/threadpool/internal/config"
	"github.com/me/threadpool/internal/metrics"
	"github.com/me/threadpool/internal/scheduler"
	"github.com/me/threadpool/internal/store"
	"github.com/me/threadpool/pkg/artifact"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Server is the threadpool REST API server.
type Server struct {
	router      chi.Router
	logger      *slog.Logger
	config      config.ServerConfig
	startTime   time.Time
	store       store.Store
	pool        *scheduler.Channel
	gatherer    prometheus.Gatherer // optional; serves /metrics when set
	tasks       *metrics.Tasks      // optional
	sseInterval time.Duration

	mu      sync.RWMutex
	modules map[artifact.Hash]*artifact.Module
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithGatherer serves the metrics in g at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithTaskMetrics records task submissions and outcomes in m.
func WithTaskMetrics(m *metrics.Tasks) Option {
	return func(s *Server) {
		s.tasks = m
	}
}

// WithSSEInterval sets how often the pool stream polls the scheduler.
func WithSSEInterval(d time.Duration) Option {
	return func(s *Server) {
		s.sseInterval = d
	}
}

// New creates a Server with all routes registered. Tasks are submitted to
// pool; the Server does not own it.
func New(cfg config.ServerConfig, st store.Store, pool *scheduler.Channel, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger.With("component", "server"),
		config:      cfg,
		startTime:   time.Now(),
		store:       st,
		pool:        pool,
		sseInterval: time.Second,
		modules:     make(map[artifact.Hash]*artifact.Module),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// LoadModules compiles every persisted module and caches it in the pool.
// It returns how many modules were loaded.
func (s *Server) LoadModules(ctx context.Context) (int, error) {
	stored, err := s.store.ListModules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list modules: %w", err)
	}
	for _, rec := range stored {
		mod, err := artifact.Compile(rec.Name, rec.Source)
		if err != nil {
			return 0, fmt.Errorf("compile stored module %s: %w", rec.Hash, err)
		}
		if mod.Hash.String() != rec.Hash {
			return 0, fmt.Errorf("stored module %s hashes to %s", rec.Hash, mod.Hash)
		}
		if err := s.register(mod); err != nil {
			return 0, err
		}
	}
	s.logger.Info("modules loaded", "count", len(stored))
	return len(stored), nil
}

// register makes mod available to tasks and caches it in the pool the
// first time it is seen.
func (s *Server) register(mod *artifact.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modules[mod.Hash]; ok {
		return nil
	}
	if err := s.pool.CacheModule(mod); err != nil {
		return fmt.Errorf("cache module %s: %w", mod.Hash.Short(), err)
	}
	s.modules[mod.Hash] = mod
	return nil
}

func (s *Server) module(hash artifact.Hash) (*artifact.Module, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mod, ok := s.modules[hash]
	return mod, ok
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)
		r.Get("/pool", s.handlePool)

		r.Route("/modules", func(r chi.Router) {
			r.Get("/", s.handleListModules)
			r.Post("/", s.handleCreateModule)
			r.Get("/{hash}", s.handleGetModule)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/{id}", s.handleGetTask)
		})

		r.Get("/sse/pool", s.handleSSEPool)
	})
}
