// Package server exposes the HTTP API: health, instrument listing and
// scores, search, aggregator pause/resume, and backup operations.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/events"
	"github.com/aristath/graham/internal/modules/aggregator"
	"github.com/aristath/graham/internal/modules/collector"
	"github.com/aristath/graham/internal/modules/fundamentals"
	"github.com/aristath/graham/internal/modules/quotes"
	"github.com/aristath/graham/internal/modules/registry"
	"github.com/aristath/graham/internal/modules/search"
	"github.com/aristath/graham/internal/reliability"
)

// Server wires the HTTP router to the workers and repositories.
type Server struct {
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger

	registry   *registry.Registry
	snapshots  *fundamentals.SnapshotRepository
	quotes     *quotes.Repository
	events     *events.Repository
	collector  *collector.Service
	aggregator *aggregator.Service
	search     *search.Indexer
	backups    *reliability.BackupService
	jobs       *reliability.JobHistoryRepository

	startedAt time.Time
}

// Config wires the server's collaborators.
type Config struct {
	Port       int
	DevMode    bool
	Registry   *registry.Registry
	Snapshots  *fundamentals.SnapshotRepository
	Quotes     *quotes.Repository
	Events     *events.Repository
	Collector  *collector.Service
	Aggregator *aggregator.Service
	Search     *search.Indexer
	Backups    *reliability.BackupService
	Jobs       *reliability.JobHistoryRepository
	Log        zerolog.Logger
}

// New creates the HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("service", "server").Logger(),
		registry:   cfg.Registry,
		snapshots:  cfg.Snapshots,
		quotes:     cfg.Quotes,
		events:     cfg.Events,
		collector:  cfg.Collector,
		aggregator: cfg.Aggregator,
		search:     cfg.Search,
		backups:    cfg.Backups,
		jobs:       cfg.Jobs,
		startedAt:  time.Now(),
	}
	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/instruments", s.handleListInstruments)
		r.Get("/instruments/{id}/score", s.handleInstrumentScore)
		r.Post("/instruments/{company}/{symbol}/fetch", s.handleFetchNow)

		r.Get("/search", s.handleSearch)

		r.Route("/aggregator", func(r chi.Router) {
			r.Post("/pause", s.handleAggregatorPause)
			r.Post("/resume", s.handleAggregatorResume)
		})

		r.Get("/jobs", s.handleJobHistory)

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", s.handleListBackups)
			r.Post("/", s.handleCreateBackup)
		})
	})
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("HTTP server starting")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("Request handled")
	})
}
