// Package events carries housekeeping outcomes from the supervisor to
// whoever is interested: logs, metrics, an in-process bus or a broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"job-queue/pkg/job"
)

type Name string

const (
	Archived      Name = "archived"
	Deleted       Name = "deleted"
	ExpiredCount  Name = "expired-count"
	ExpiredJob    Name = "expired-job"
	MonitorStates Name = "monitor-states"
	Retried       Name = "retried"
	Error         Name = "error"
)

// Event is one notification. Which payload field is set depends on Name:
// Count for the count events, Job for expired-job, States for
// monitor-states, and Task plus Err for error.
type Event struct {
	Name   Name
	Task   string
	Count  int64
	Job    *job.Ref
	States *job.StateCounts
	Err    error
	At     time.Time
}

type wireEvent struct {
	Name   Name             `json:"name"`
	Task   string           `json:"task,omitempty"`
	Count  int64            `json:"count,omitempty"`
	Job    *job.Ref         `json:"job,omitempty"`
	States *job.StateCounts `json:"states,omitempty"`
	Error  string           `json:"error,omitempty"`
	At     time.Time        `json:"at"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Name:   e.Name,
		Task:   e.Task,
		Count:  e.Count,
		Job:    e.Job,
		States: e.States,
		At:     e.At,
	}
	if e.Err != nil {
		w.Error = e.Err.Error()
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = Event{
		Name:   w.Name,
		Task:   w.Task,
		Count:  w.Count,
		Job:    w.Job,
		States: w.States,
		At:     w.At,
	}
	if w.Error != "" {
		e.Err = errors.New(w.Error)
	}
	return nil
}

// Notifier receives events. Implementations must be safe for concurrent use;
// the supervisor calls Notify from every task goroutine.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(context.Context, Event) error { return nil })
