package observability

import (
	"context"

	"job-queue/pkg/events"
)

// MetricsNotifier turns housekeeping events into Prometheus counters and the
// queue_jobs gauge.
type MetricsNotifier struct{}

func (MetricsNotifier) Notify(_ context.Context, e events.Event) error {
	switch e.Name {
	case events.Archived:
		JobsArchived.Add(float64(e.Count))
	case events.Deleted:
		JobsPurged.Add(float64(e.Count))
	case events.ExpiredCount:
		JobsExpired.Add(float64(e.Count))
	case events.Retried:
		JobsRetried.Add(float64(e.Count))
	case events.MonitorStates:
		if e.States == nil {
			return nil
		}
		// Queues that drained since the last snapshot would otherwise keep
		// their old values.
		QueueJobs.Reset()
		for name, q := range e.States.Queues {
			for state, n := range q.States {
				QueueJobs.WithLabelValues(name, string(state)).Set(float64(n))
			}
		}
	}
	return nil
}
