package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_inserted_total",
		Help: "The total number of insert requests",
	}, []string{"name", "result"}) // result: inserted, duplicate, error

	JobsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_fetched_total",
		Help: "The total number of jobs claimed by workers",
	}, []string{"name"})

	JobsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_resolved_total",
		Help: "The total number of jobs moved to a final state by a caller",
	}, []string{"outcome"}) // outcome: completed, cancelled, failed, skipped

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of job processing.",
		Buckets: prometheus.LinearBuckets(0.1, 0.2, 10),
	}, []string{"name"})

	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "housekeeping_runs_total",
		Help: "The total number of housekeeping task runs",
	}, []string{"task", "result"}) // result: ok, error

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "housekeeping_duration_seconds",
		Help:    "Duration of housekeeping task runs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	JobsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_archived_total",
		Help: "The total number of jobs moved to the archive",
	})

	JobsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_purged_total",
		Help: "The total number of archived jobs deleted",
	})

	JobsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_expired_total",
		Help: "The total number of active jobs that ran past their expiry",
	})

	JobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_retried_total",
		Help: "The total number of failed jobs put back for retry",
	})

	QueueJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_jobs",
		Help: "Jobs per queue name and state at the last state count",
	}, []string{"name", "state"})
)

// NewLogger creates a structured logger. format is "json" or "text"; level
// is one of debug, info, warn or error and defaults to info.
func NewLogger(level, format string) *slog.Logger {
	return newLogger(os.Stdout, level, format)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Route is an extra handler served next to /metrics.
type Route struct {
	Pattern string
	Handler http.Handler
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics. The
// returned func shuts it down.
func StartMetricsServer(addr string, logger *slog.Logger, routes ...Route) func(context.Context) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for _, r := range routes {
		mux.Handle(r.Pattern, r.Handler)
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv.Shutdown
}
