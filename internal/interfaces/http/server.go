// Package http adapts the core operations to an HTTP surface: the three
// logical operations, a health endpoint carrying the live session count,
// and the Prometheus metrics endpoint. The server is read-mostly and
// local-first; it never exposes credentials.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/spendguard/spendguard/internal/app"
)

// ServerConfig holds server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns conservative timeouts on a local bind.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server serves the core over HTTP.
type Server struct {
	router *mux.Router
	server *http.Server
	core   *app.Core
}

// NewServer wires routes onto the core.
func NewServer(core *app.Core, cfg ServerConfig) *Server {
	s := &Server{
		router: mux.NewRouter(),
		core:   core,
	}
	s.routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(requestLogging)
	s.router.HandleFunc("/v1/analyze", s.handleAnalyze).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/sessions/{id}/anomalies", s.handleAnomalies).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/sessions/{id}/recommend", s.handleRecommend).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/sessions/{id}/execute", s.handleExecute).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/sessions/{id}", s.handleRelease).Methods(http.MethodDelete)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Start blocks serving until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
