package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// shutdownTimeout bounds how long in-flight requests get to finish during
// Close (spec §5 graceful shutdown: "Each step has its own bounded
// timeout").
const shutdownTimeout = 5 * time.Second

// ReadinessChecker reports whether a collaborator (MQTT client, device
// TLS listener) is ready to serve traffic. Implementations should not
// block; readyz callers expect a fast response.
type ReadinessChecker interface {
	Ready() error
}

// Hooks are invoked when the export/OTP collaborator signals the core
// (spec §6 "lifecycle hooks it uses to signal 'config reloaded' and
// 'restart requested'"). Either may be nil, in which case the
// corresponding route 204s without side effects.
type Hooks struct {
	OnConfigReloaded   func()
	OnRestartRequested func()
}

// Logger is the structured logging interface the server logs through.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config supplies the lifecycle server's collaborators.
type Config struct {
	Addr    string
	Checks  []ReadinessChecker
	Hooks   Hooks
	Logger  Logger
	Version string
}

// Server is the minimal chi-routed HTTP surface described in spec §6.
type Server struct {
	httpServer *http.Server
	checks     []ReadinessChecker
	hooks      Hooks
	logger     Logger
	version    string
}

// New constructs a Server; call Start to begin listening.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Server{
		checks:  cfg.Checks,
		hooks:   cfg.Hooks,
		logger:  logger,
		version: cfg.Version,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Post("/internal/config-reloaded", s.handleConfigReloaded)
	r.Post("/internal/restart-requested", s.handleRestartRequested)

	return r
}

// Start begins listening; it blocks until the listener stops (error on
// failure, nil on graceful Close).
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close gracefully shuts down the HTTP server (spec §5 shutdown step).
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	for _, check := range s.checks {
		if err := check.Ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleConfigReloaded(w http.ResponseWriter, _ *http.Request) {
	s.logger.Info("config-reloaded signal received")
	if s.hooks.OnConfigReloaded != nil {
		s.hooks.OnConfigReloaded()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestartRequested(w http.ResponseWriter, _ *http.Request) {
	s.logger.Info("restart-requested signal received")
	if s.hooks.OnRestartRequested != nil {
		s.hooks.OnRestartRequested()
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
