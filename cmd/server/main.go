package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"

	"github.com/studysprint/hub/internal/auth"
	"github.com/studysprint/hub/internal/directory"
	"github.com/studysprint/hub/internal/hub"
	"github.com/studysprint/hub/internal/server"
	"github.com/studysprint/hub/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes everything, manages the server lifecycle, and centralizes
// error reporting so deferred cleanup always executes before the process
// exits.
func run() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	db, err := badger.Open(badger.DefaultOptions(cfg.BadgerPath).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return fmt.Errorf("opening message store: %w", err)
	}
	defer func() {
		log.Info("closing message store")
		_ = db.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, cleanup, err := openDirectory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	gateway := hub.NewGateway(
		auth.NewJWTVerifier(cfg.JWTSecret),
		dir,
		store.NewBadgerStore(db, log),
		cfg.HistoryLimit,
		log,
	)

	srv := server.New(cfg, gateway, log)
	httpServer := server.CreateServer(cfg.Addr, srv.Routes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(httpServer, log)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx, httpServer)
}

// openDirectory picks the Postgres-backed group directory when a database is
// configured, and an allow-all directory otherwise (local development).
func openDirectory(ctx context.Context, cfg server.Config, log *slog.Logger) (directory.GroupDirectory, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("no DATABASE_URL set: group membership checks are disabled")
		return directory.Open(), func() {}, nil
	}
	pg, err := directory.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
