// Package relay constructs and tears down the HTTP server hosting the
// relay endpoints.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer configures the HTTP server with production timeouts. The
// idle timeout applies to keep-alive HTTP connections only; upgraded
// WebSocket connections are governed by the session pumps' own deadlines.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ShutdownServer gracefully stops the HTTP server, waiting up to the
// timeout for in-flight requests.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
		return err
	}
	slog.Info("http server shutdown complete")
	return nil
}
