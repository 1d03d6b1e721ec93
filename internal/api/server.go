package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/bootrelay/internal/dispatch"
	"github.com/mattjoyce/bootrelay/internal/events"
	"github.com/mattjoyce/bootrelay/internal/journal"
	"github.com/mattjoyce/bootrelay/internal/protocol"
	"github.com/mattjoyce/bootrelay/internal/relay"
	"github.com/mattjoyce/bootrelay/internal/worker"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks github.com/mattjoyce/bootrelay/internal/api Service

// Service is the relay as seen by the HTTP surface.
type Service interface {
	Start(ctx context.Context, dispatcherHandle, callbackHandle int64) error
	Submit(ctx context.Context, ev protocol.Event) dispatch.Disposition
	SubmitAndWait(ctx context.Context, ev protocol.Event) (worker.Result, error)
	Health() relay.Health
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	APIKey string
	// MaxWait bounds POST /events/{kind}?wait=true.
	MaxWait time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config Config
	svc    Service
	hub    *events.Hub
	logger *slog.Logger
	server *http.Server
}

func New(config Config, svc Service, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxWait <= 0 {
		config.MaxWait = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: config,
		svc:    svc,
		hub:    hub,
		logger: logger,
	}
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/start", s.handleStart)
		r.Post("/events/{kind}", s.handleSubmit)
		r.Get("/events", s.handleEvents)
		r.Get("/dispatches", s.handleDispatches)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "not implemented")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
