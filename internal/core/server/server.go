// Package server provides the HTTP surface of Switchboard: event
// ingestion, rule management, and the live stream socket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lunaform/switchboard/internal/bus"
	"github.com/lunaform/switchboard/internal/core/auth"
	"github.com/lunaform/switchboard/internal/core/config"
	"github.com/lunaform/switchboard/internal/core/db"
	"github.com/lunaform/switchboard/internal/router"
	"github.com/lunaform/switchboard/internal/rules"
)

// Server wires the HTTP API onto the router, the rule registry, and the
// bus. Thin orchestration layer; all domain behavior lives behind it.
type Server struct {
	cfg      *config.ServerConfig
	router   *router.Router
	registry *rules.Registry
	bus      *bus.Bus
	queries  *db.Queries
	verifier *auth.Verifier
	log      *slog.Logger

	http *http.Server
}

// New creates the server and mounts all routes. queries may be nil when
// no database is configured; verifier may be nil to accept unsigned
// events.
func New(cfg *config.ServerConfig, rt *router.Router, registry *rules.Registry, b *bus.Bus, q *db.Queries, verifier *auth.Verifier, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		router:   rt,
		registry: registry,
		bus:      b,
		queries:  q,
		verifier: verifier,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.With(s.signed).Post("/events", s.handlePublishEvent)
		r.Get("/stream", s.handleStream)

		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Get("/rules", s.handleGetRules)
			r.Put("/rules", s.handlePutRules)
			r.Delete("/rules", s.handleDeleteRules)
			r.Post("/rules/reload", s.handleReloadRules)
			r.Get("/events", s.handleListIndexedEvents)
		})
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// signed applies webhook signature verification when a verifier is
// configured.
func (s *Server) signed(next http.Handler) http.Handler {
	if s.verifier == nil {
		return next
	}
	return s.verifier.Middleware(next)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
