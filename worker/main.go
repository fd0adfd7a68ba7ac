package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"job-queue/pkg/config"
	"job-queue/pkg/database"
	"job-queue/pkg/job"
	"job-queue/pkg/observability"
)

// queue is what a worker needs from *database.Client.
type queue interface {
	Fetch(ctx context.Context, name string, batchSize int) ([]job.Ref, error)
	Complete(ctx context.Context, id uuid.UUID) (*job.Ref, error)
	Fail(ctx context.Context, id uuid.UUID) (*job.Ref, error)
}

type processFunc func(ctx context.Context, ref job.Ref) error

type worker struct {
	db           queue
	logger       *slog.Logger
	process      processFunc
	batchSize    int
	pollInterval time.Duration
}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := database.New(ctx, cfg.Database, database.WithLogger(logger))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	shutdownMetrics := observability.StartMetricsServer(cfg.Worker.MetricsAddr, logger)
	defer shutdownMetrics(context.Background())

	w := &worker{
		db:           dbClient,
		logger:       logger,
		process:      processJob,
		batchSize:    cfg.Worker.BatchSize,
		pollInterval: cfg.Worker.PollInterval(),
	}

	var wg sync.WaitGroup
	for _, name := range cfg.Worker.Queues {
		wg.Add(1)
		go w.run(ctx, &wg, name, cfg.Worker.Concurrency)
	}

	logger.Info("all workers started. waiting for jobs...", "queues", cfg.Worker.Queues)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping workers...")
	cancel()
	wg.Wait()
	logger.Info("all workers stopped gracefully")
}

// run starts concurrency competing pollers for one queue name and blocks
// until ctx is done and they have all returned.
func (w *worker) run(ctx context.Context, wg *sync.WaitGroup, name string, concurrency int) {
	defer wg.Done()
	l := w.logger.With("job_name", name)
	l.Info("worker started", "concurrency", concurrency)

	var inner sync.WaitGroup
	inner.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer inner.Done()
			w.poll(ctx, l, name)
		}()
	}
	inner.Wait()
	l.Info("worker shutting down")
}

func (w *worker) poll(ctx context.Context, l *slog.Logger, name string) {
	for {
		n, err := w.pollOnce(ctx, l, name)
		if err != nil && ctx.Err() == nil {
			l.Error("failed to fetch jobs", "error", err)
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// pollOnce claims one batch and handles every job in it. Jobs already
// claimed run to completion even if ctx is cancelled meanwhile.
func (w *worker) pollOnce(ctx context.Context, l *slog.Logger, name string) (int, error) {
	refs, err := w.db.Fetch(ctx, name, w.batchSize)
	if err != nil {
		return 0, err
	}
	observability.JobsFetched.WithLabelValues(name).Add(float64(len(refs)))
	for _, ref := range refs {
		w.handle(context.WithoutCancel(ctx), l, ref)
	}
	return len(refs), nil
}

func (w *worker) handle(ctx context.Context, l *slog.Logger, ref job.Ref) {
	l = l.With("job_id", ref.ID.String())
	l.Info("job claimed, starting processing")

	timer := time.Now()
	processingErr := w.process(ctx, ref)
	observability.JobDuration.WithLabelValues(ref.Name).Observe(time.Since(timer).Seconds())

	if processingErr != nil {
		l.Error("job processing failed", "error", processingErr)
		resolved, err := w.db.Fail(ctx, ref.ID)
		w.record(l, "failed", resolved, err)
		return
	}
	resolved, err := w.db.Complete(ctx, ref.ID)
	w.record(l, "completed", resolved, err)
}

func (w *worker) record(l *slog.Logger, outcome string, resolved *job.Ref, err error) {
	switch {
	case err != nil:
		l.Error("failed to record job outcome", "outcome", outcome, "error", err)
	case resolved == nil:
		// The supervisor expired it, or a caller cancelled it, while we worked.
		l.Warn("job was no longer active", "outcome", outcome)
		observability.JobsResolved.WithLabelValues("skipped").Inc()
	default:
		l.Info("job finished", "outcome", outcome)
		observability.JobsResolved.WithLabelValues(outcome).Inc()
	}
}

// processJob simulates the actual work.
func processJob(_ context.Context, ref job.Ref) error {
	switch ref.Name {
	case "send_email":
		time.Sleep(100 * time.Millisecond) // Simulate fast work
		if rand.Intn(10) == 0 {            // 10% chance of failure
			return errors.New("failed to connect to SMTP server")
		}
		return nil
	case "export_data":
		time.Sleep(1 * time.Second) // Simulate slow work
		if rand.Intn(5) == 0 {      // 20% chance of failure
			return errors.New("external API returned 503")
		}
		return nil
	default:
		return fmt.Errorf("unknown job name: %s", ref.Name)
	}
}
