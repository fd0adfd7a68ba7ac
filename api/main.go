package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"job-queue/pkg/config"
	"job-queue/pkg/database"
	"job-queue/pkg/job"
	"job-queue/pkg/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("JOBQUEUE_CONFIG"), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.New(ctx, cfg.Database,
		database.WithLogger(logger),
		database.WithDefaultExpireIn(cfg.Queue.ExpireIn()),
		database.WithStateMarker(job.StateMarker{Delimiter: cfg.Supervisor.StateJobDelimiter}),
	)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	// In a real app, you might use a migration tool. For this demo, we ensure the schema exists.
	if err := dbClient.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	shutdownMetrics := observability.StartMetricsServer(cfg.API.MetricsAddr, logger)

	srv := &server{db: dbClient, logger: logger, retryLimit: cfg.Queue.RetryLimit}
	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		shutdownMetrics(shutdownCtx)
	}()

	logger.Info("API server starting", "addr", cfg.API.Addr, "schema", dbClient.Schema())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("API server stopped")
}
