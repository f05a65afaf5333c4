// Package server wraps the relay's HTTP surface: the websocket endpoints,
// the liveness probe, and drain-aware shutdown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"
)

type Server struct {
	httpServer *http.Server
	draining   atomic.Bool
}

// NewServer builds the HTTP server around the provided mux and mounts the
// health endpoint on it. Read header timeout bounds the handshake; the
// websocket connections themselves are hijacked and manage their own
// deadlines.
func NewServer(addr string, mux *http.ServeMux, readTimeout, writeTimeout time.Duration) *Server {
	s := &Server{}
	mux.HandleFunc("/health", s.handleHealth)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}
	return s
}

// Start blocks serving until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown flips the health probe to unhealthy, stops accepting new
// connections and waits for non-hijacked requests to finish. Live websocket
// connections are drained separately by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports a fixed healthy/unhealthy status for orchestration.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "healthy"
	code := http.StatusOK
	if s.draining.Load() {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  status,
		"service": "websocket",
	})
}
