package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"job-queue/pkg/boss"
	"job-queue/pkg/config"
	"job-queue/pkg/database"
	"job-queue/pkg/events"
	"job-queue/pkg/job"
	"job-queue/pkg/mq"
	"job-queue/pkg/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("JOBQUEUE_CONFIG"), "path to TOML config file")
	metricsAddr := flag.String("metrics-addr", ":9092", "address for the Prometheus endpoint")
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
		database.WithStateMarker(job.StateMarker{Delimiter: cfg.Supervisor.StateJobDelimiter}),
	)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	if err := dbClient.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	notifiers := events.Multi{events.NewLogNotifier(logger), observability.MetricsNotifier{}, bus}
	if cfg.RabbitMQ.URL != "" {
		mqClient, err := mq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer mqClient.Close()

		// Ensure topology exists; safe if already declared
		if err := mqClient.SetupTopology(); err != nil {
			logger.Error("failed to setup rabbitmq topology", "error", err)
			os.Exit(1)
		}
		notifiers = append(notifiers, mqClient)
	} else {
		logger.Info("rabbitmq url not set, events stay local")
	}

	shutdownMetrics := observability.StartMetricsServer(*metricsAddr, logger,
		observability.Route{Pattern: "GET /events", Handler: streamEvents(bus, 64)},
	)

	b := boss.New(dbClient, boss.ConfigFrom(cfg.Supervisor),
		boss.WithNotifier(notifiers),
		boss.WithLogger(logger),
	)
	// Runs must not be cut short by the shutdown signal; Stop waits for them.
	if err := b.Start(context.WithoutCancel(ctx)); err != nil {
		logger.Error("failed to start supervisor", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping supervisor...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.Stop(stopCtx); err != nil {
		logger.Warn("supervisor did not stop cleanly", "error", err)
	}
	// Closing the bus ends open /events streams so the server can drain.
	bus.Close()
	shutdownMetrics(stopCtx)
}
