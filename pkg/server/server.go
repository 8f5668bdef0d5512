// Package server hosts the gateway HTTP listener plus the operational
// surface: metrics, health, and admin inspection endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"skyroute-hq/charon/pkg/agentpool"
	"skyroute-hq/charon/pkg/breaker"
	"skyroute-hq/charon/pkg/config"
	"skyroute-hq/charon/pkg/telemetry/metrics"
)

// Deps are the collaborators mounted on the server's routes.
type Deps struct {
	// Gateway serves the inbound API paths at "/".
	Gateway http.Handler

	// Metrics, when non-nil, is exposed at /metrics.
	Metrics *metrics.Metrics

	// EndpointBreaker and ProviderBreaker feed /admin/circuits.
	EndpointBreaker *breaker.CircuitBreaker
	ProviderBreaker *breaker.CircuitBreaker

	// Fuse feeds the vendor fuse section of /admin/circuits.
	Fuse *breaker.VendorTypeFuse

	// Pool feeds /admin/pool.
	Pool *agentpool.Pool

	Logger *slog.Logger
}

// Server is the gateway's HTTP listener.
type Server struct {
	config config.ServerConfig
	deps   Deps
	logger *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once

	mu        sync.RWMutex
	isRunning bool
}

// New creates a server over the given configuration and collaborators.
func New(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		deps:   deps,
		logger: logger.With("component", "server"),
	}
}

// Start starts the listener and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully drains in-flight requests, bounded by the
// configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("gateway stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the listener is up.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/", s.deps.Gateway)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/admin/circuits", s.handleCircuits)
	mux.HandleFunc("/admin/pool", s.handlePool)

	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// circuitsReport is the /admin/circuits payload.
type circuitsReport struct {
	Endpoints []breaker.Snapshot     `json:"endpoints"`
	Providers []breaker.Snapshot     `json:"providers"`
	Fuses     []breaker.FuseSnapshot `json:"fuses"`
}

func (s *Server) handleCircuits(w http.ResponseWriter, r *http.Request) {
	report := circuitsReport{}
	if s.deps.EndpointBreaker != nil {
		report.Endpoints = s.deps.EndpointBreaker.Snapshots()
	}
	if s.deps.ProviderBreaker != nil {
		report.Providers = s.deps.ProviderBreaker.Snapshots()
	}
	if s.deps.Fuse != nil {
		report.Fuses = s.deps.Fuse.Snapshots()
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pool == nil {
		writeJSON(w, http.StatusOK, agentpool.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Pool.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
