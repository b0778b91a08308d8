package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer configures the HTTP server with production timeout defaults.
// ReadTimeout is left unset: it would apply to upgraded WebSocket
// connections too, and those manage their own deadlines.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Start listens until the server is shut down; a clean shutdown is not an
// error.
func Start(srv *http.Server, log *slog.Logger) error {
	log.Info("server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight HTTP
// requests, then drains the live WebSocket clients.
func (s *Server) Shutdown(ctx context.Context, srv *http.Server) error {
	s.log.Info("shutting down http server")
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown error", "err", err)
	}
	return s.DrainClients(s.cfg.ShutdownGrace)
}
