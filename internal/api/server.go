// Package api exposes the monitor's query surface over HTTP/JSON.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kvmonitor/kvmonitor/internal/config"
)

// Server wraps the HTTP server and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	listener   net.Listener
}

// NewServer constructs an HTTP server bound to the configured address with
// all query routes registered.
func NewServer(cfg config.ServerConfig, monitor Monitor, logger *slog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	router := newRouter(&handler{monitor: monitor, logger: logger})

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: lis,
	}, nil
}

func newRouter(h *handler) *mux.Router {
	router := mux.NewRouter()
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/events", h.listEvents).Methods(http.MethodGet)
	v1.HandleFunc("/events/{id}/resolve", h.resolveEvent).Methods(http.MethodPost)
	v1.HandleFunc("/groups", h.listGroups).Methods(http.MethodGet)
	v1.HandleFunc("/groups/{correlationId}/resolve", h.resolveGroup).Methods(http.MethodPost)
	// Clears resolved events and groups together, so it sits above
	// both collections rather than under /events.
	v1.HandleFunc("/clear-resolved", h.clearResolved).Methods(http.MethodPost)
	v1.HandleFunc("/summary", h.summary).Methods(http.MethodGet)
	v1.HandleFunc("/buffers", h.bufferStats).Methods(http.MethodGet)
	v1.HandleFunc("/health", h.health).Methods(http.MethodGet)
	return router
}

// Start serves incoming requests until Shutdown is invoked.
func (s *Server) Start() error {
	if s.httpServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, closing forcibly once ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.httpServer.Close()
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
