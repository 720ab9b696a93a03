package api

import (
	"context"
	"net/http"
	"time"
)

// Server wraps the HTTP server and its router.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer creates a server around the routes.
func NewServer(h *Handlers, health *HealthChecker, cfg RouteConfig) *Server {
	return &Server{handler: SetupRoutes(h, health, cfg)}
}

// ListenAndServe starts the HTTP server. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
