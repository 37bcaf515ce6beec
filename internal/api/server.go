package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/deviceui/internal/auth"
	"github.com/mattjoyce/deviceui/internal/events"
	"github.com/mattjoyce/deviceui/internal/plugin"
	"github.com/mattjoyce/deviceui/internal/settings"
	"github.com/mattjoyce/deviceui/internal/state"
	"github.com/mattjoyce/deviceui/internal/supervisor"
	"github.com/mattjoyce/deviceui/internal/uisync"
)

// DeviceUI defines the plugin operations exposed over HTTP.
type DeviceUI interface {
	Name() string
	Status() supervisor.Status
	Enable(ctx context.Context) (<-chan error, error)
	Disable(ctx context.Context) error
	LiveSettings(ctx context.Context) (settings.WireSettings, error)
	StoredSettings(ctx context.Context) (settings.AppSettings, error)
	PersistLive(ctx context.Context) (bool, error)
	PushStored(ctx context.Context) (uisync.PushResult, error)
	StepRun(ctx context.Context, step int, app plugin.AppState) (plugin.StepResult, error)
	Events() *events.Hub
}

// StepOptionsStore defines per-step option storage.
type StepOptionsStore interface {
	Get(ctx context.Context, plugin string, step int) (state.StepOptions, error)
	Put(ctx context.Context, plugin string, step int, opts state.StepOptions) error
	Delete(ctx context.Context, plugin string, step int) error
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// EnableWait bounds how long POST /v1/ui/enable?wait=true blocks.
	EnableWait time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	ui        DeviceUI
	steps     StepOptionsStore
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, ui DeviceUI, steps StepOptionsStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.EnableWait <= 0 {
		config.EnableWait = 30 * time.Second
	}
	return &Server{
		config:    config,
		ui:        ui,
		steps:     steps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // event stream
		IdleTimeout:  60 * time.Second,
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

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes("ui:ro")).Get("/ui/status", s.handleStatus)
		r.With(s.requireScopes("ui:rw")).Post("/ui/enable", s.handleEnable)
		r.With(s.requireScopes("ui:rw")).Post("/ui/disable", s.handleDisable)

		r.With(s.requireScopes("settings:ro")).Get("/settings/live", s.handleLiveSettings)
		r.With(s.requireScopes("settings:ro")).Get("/settings/stored", s.handleStoredSettings)
		r.With(s.requireScopes("settings:rw")).Post("/settings/persist", s.handlePersist)
		r.With(s.requireScopes("settings:rw")).Post("/settings/push", s.handlePush)

		r.With(s.requireScopes("steps:ro")).Get("/steps/{step}/options", s.handleGetStepOptions)
		r.With(s.requireScopes("steps:rw")).Put("/steps/{step}/options", s.handlePutStepOptions)
		r.With(s.requireScopes("steps:rw")).Delete("/steps/{step}/options", s.handleDeleteStepOptions)
		r.With(s.requireScopes("steps:rw")).Post("/steps/{step}/run", s.handleStepRun)

		r.With(s.requireScopes("events:ro")).Get("/events", s.handleListEvents)
		r.With(s.requireScopes("events:ro")).Get("/events/stream", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
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
