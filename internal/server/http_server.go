// Package server constructs, runs and drains the relay's HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// WriteTimeout is left unset because hijacked WebSocket connections manage
// their own deadlines.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve starts the hub and the HTTP server and blocks until ctx is done or
// the listener fails, then drains both within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, shutdownTimeout time.Duration) error {
	httpServer := CreateServer(s.cfg.Port, s.SetupRoutes())
	s.Start()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gracefully")
	case serveErr = <-errChan:
	}

	if err := ShutdownServer(httpServer, shutdownTimeout); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
	}
	if err := s.hub.Shutdown(shutdownTimeout); err != nil {
		s.logger.Warn("hub shutdown error", "error", err)
	}
	return serveErr
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return server.Shutdown(ctx)
}
