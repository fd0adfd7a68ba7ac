package events

import (
	"context"
	"log/slog"
)

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) error {
	switch e.Name {
	case Error:
		n.logger.ErrorContext(ctx, "housekeeping task failed", "task", e.Task, "error", e.Err)
	case ExpiredJob:
		if e.Job != nil {
			n.logger.WarnContext(ctx, "job expired", "job_id", e.Job.ID.String(), "job_name", e.Job.Name)
		}
	case MonitorStates:
		if e.States != nil {
			attrs := []any{"all", e.States.All, "queues", len(e.States.Queues)}
			for state, count := range e.States.States {
				attrs = append(attrs, string(state), count)
			}
			n.logger.InfoContext(ctx, "queue states", attrs...)
		}
	default:
		n.logger.InfoContext(ctx, "housekeeping", "event", string(e.Name), "task", e.Task, "count", e.Count)
	}
	return nil
}
