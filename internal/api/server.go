package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"barometer/internal/api/datasets"
	"barometer/internal/api/health"
	"barometer/internal/api/ws"
	"barometer/internal/metrics"
	"barometer/pkg/errors"
	"barometer/pkg/logger"
)

// ServerConfig contains configuration for the HTTP server
type ServerConfig struct {
	Port         int
	ServiceName  string
	Version      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wraps the HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer wires every route: Kubernetes probes, Prometheus metrics, the
// dataset endpoints under /api/v1 and the refresh WebSocket.
func NewServer(
	cfg ServerConfig,
	healthHandler *health.Handler,
	data *datasets.Handler,
	hub *ws.Hub,
	log *logger.Logger,
) *Server {
	mux := http.NewServeMux()

	// Probes
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("/live", healthHandler.HandleLiveness)

	// Prometheus scrape endpoint
	mux.Handle("/metrics", metrics.Handler())

	// Derived datasets
	data.Register(mux)

	// Refresh notifications
	mux.HandleFunc("/ws", hub.HandleWS)

	// Root endpoint (service info)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	log.Infow("HTTP server configured", "port", port)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		log:        log,
	}
}

// Start begins listening for HTTP requests.
// Blocks until the server is stopped or fails.
func (s *Server) Start() error {
	s.log.Infow("Starting HTTP server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server, waiting for active
// connections to complete within the context deadline
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Infow("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Infow("HTTP server stopped")
	return nil
}
