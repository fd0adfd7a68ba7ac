package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"job-queue/pkg/events"
	"job-queue/pkg/job"
)

func TestMetricsNotifierCounters(t *testing.T) {
	n := MetricsNotifier{}
	ctx := context.Background()

	archived := testutil.ToFloat64(JobsArchived)
	purged := testutil.ToFloat64(JobsPurged)
	expired := testutil.ToFloat64(JobsExpired)
	retried := testutil.ToFloat64(JobsRetried)

	_ = n.Notify(ctx, events.Event{Name: events.Archived, Count: 3})
	_ = n.Notify(ctx, events.Event{Name: events.Deleted, Count: 2})
	_ = n.Notify(ctx, events.Event{Name: events.ExpiredCount, Count: 5})
	_ = n.Notify(ctx, events.Event{Name: events.Retried, Count: 1})
	_ = n.Notify(ctx, events.Event{Name: events.ExpiredJob, Job: &job.Ref{Name: "x"}})

	if got := testutil.ToFloat64(JobsArchived) - archived; got != 3 {
		t.Errorf("archived delta = %v", got)
	}
	if got := testutil.ToFloat64(JobsPurged) - purged; got != 2 {
		t.Errorf("purged delta = %v", got)
	}
	if got := testutil.ToFloat64(JobsExpired) - expired; got != 5 {
		t.Errorf("expired delta = %v", got)
	}
	if got := testutil.ToFloat64(JobsRetried) - retried; got != 1 {
		t.Errorf("retried delta = %v", got)
	}
}

func TestMetricsNotifierQueueGauge(t *testing.T) {
	n := MetricsNotifier{}
	ctx := context.Background()

	first := job.TallyStates([]job.CountRow{
		{Name: strptr("email"), State: stateptr(job.StateCreated), Size: 4},
		{Name: strptr("export"), State: stateptr(job.StateActive), Size: 1},
	})
	_ = n.Notify(ctx, events.Event{Name: events.MonitorStates, States: &first})

	if got := testutil.ToFloat64(QueueJobs.WithLabelValues("email", "created")); got != 4 {
		t.Fatalf("email created = %v", got)
	}

	second := job.TallyStates([]job.CountRow{
		{Name: strptr("email"), State: stateptr(job.StateCreated), Size: 1},
	})
	_ = n.Notify(ctx, events.Event{Name: events.MonitorStates, States: &second})

	if got := testutil.ToFloat64(QueueJobs.WithLabelValues("email", "created")); got != 1 {
		t.Fatalf("email created = %v", got)
	}
	// Only email series remain; export was dropped by the reset.
	if got := testutil.CollectAndCount(QueueJobs); got != len(job.States()) {
		t.Fatalf("series = %d, want %d", got, len(job.States()))
	}
}

func TestNewLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown", "task", "expire")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "task=expire") {
		t.Fatalf("text output = %s", out)
	}

	buf.Reset()
	newLogger(&buf, "", "json").Info("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("json output = %s", buf.String())
	}
}

func strptr(s string) *string         { return &s }
func stateptr(s job.State) *job.State { return &s }
