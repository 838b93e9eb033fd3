/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the trip spend ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags, then environment, then defaults)
  2. Configure logging
  3. Open the store (SQLite or PostgreSQL) and migrate
  4. Start the audit worker
  5. Create the ledger, metrics and API handler
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (-shutdown-timeout)
  3. Drain the audit worker
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  JWT_SECRET=dev ./server -db="./data/ledger.db"

  # Run with in-memory database
  JWT_SECRET=dev ./server -db=":memory:"

  # Run against PostgreSQL
  JWT_SECRET=dev DB_DRIVER=postgres DATABASE_URL=postgres://... ./server

SEE ALSO:
  - config/config.go: All settings
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/spend-ledger/api"
	"github.com/warp/spend-ledger/audit"
	"github.com/warp/spend-ledger/config"
	"github.com/warp/spend-ledger/ledger"
	"github.com/warp/spend-ledger/logging"
	"github.com/warp/spend-ledger/metrics"
	"github.com/warp/spend-ledger/store/postgres"
	"github.com/warp/spend-ledger/store/sqlite"
	"github.com/warp/spend-ledger/store/sqlstore"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}
	logger, err := logging.Setup(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("storage initialized", "driver", cfg.DBDriver)

	m := metrics.New()

	worker := audit.NewWorker(store, cfg.AuditBuffer)
	worker.Logger = logger
	worker.OnDrop = m.AuditDropped
	worker.Start()
	defer worker.Stop()

	l := ledger.New(store, store,
		ledger.WithLogger(logger),
		ledger.WithAuditSink(worker),
		ledger.WithObserver(m),
	)

	router := api.NewRouter(api.NewHandler(l, store, logger), api.RouterConfig{
		Auth:        api.NewAuthenticator(cfg.JWTSecret),
		Metrics:     m,
		CORSOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	default:
		return sqlite.Open(ctx, cfg.DBPath)
	}
}
