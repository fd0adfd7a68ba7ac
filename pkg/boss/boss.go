// Package boss runs the periodic housekeeping that keeps the job table
// healthy: expiring stuck jobs, archiving finished ones, purging the archive,
// retrying failures and reporting queue sizes.
package boss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"job-queue/pkg/config"
	"job-queue/pkg/events"
	"job-queue/pkg/job"
	"job-queue/pkg/observability"
)

var (
	ErrAlreadyRunning = errors.New("boss: already running")
	ErrInvalidConfig  = errors.New("boss: invalid config")
)

const (
	TaskExpire      = "expire"
	TaskArchive     = "archive"
	TaskPurge       = "purge"
	TaskRetryFailed = "retry-failed"
	TaskCountStates = "count-states"
)

// Housekeeper is the slice of the store the supervisor drives.
// *database.Client satisfies it.
type Housekeeper interface {
	Expire(ctx context.Context) ([]job.Ref, error)
	Archive(ctx context.Context, olderThan time.Duration) (int64, error)
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
	RetryFailed(ctx context.Context) (int64, error)
	CountStates(ctx context.Context) (job.StateCounts, error)
}

// Config holds task intervals and retention windows. A zero
// FailedCheckInterval or MonitorStateInterval leaves that task out.
type Config struct {
	ExpireCheckInterval   time.Duration
	ArchiveCheckInterval  time.Duration
	DeleteCheckInterval   time.Duration
	FailedCheckInterval   time.Duration
	MonitorStateInterval  time.Duration
	ArchiveCompletedAfter time.Duration
	DeleteArchivedAfter   time.Duration
}

func ConfigFrom(s config.Supervisor) Config {
	return Config{
		ExpireCheckInterval:   s.ExpireCheck(),
		ArchiveCheckInterval:  s.ArchiveCheck(),
		DeleteCheckInterval:   s.DeleteCheck(),
		FailedCheckInterval:   s.FailedCheck(),
		MonitorStateInterval:  s.MonitorState(),
		ArchiveCompletedAfter: s.ArchiveAfter(),
		DeleteArchivedAfter:   s.DeleteAfter(),
	}
}

func (c Config) Validate() error {
	var errs []error
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"expire check interval", c.ExpireCheckInterval},
		{"archive check interval", c.ArchiveCheckInterval},
		{"delete check interval", c.DeleteCheckInterval},
		{"archive completed after", c.ArchiveCompletedAfter},
		{"delete archived after", c.DeleteArchivedAfter},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if c.FailedCheckInterval < 0 {
		errs = append(errs, errors.New("failed check interval must not be negative"))
	}
	if c.MonitorStateInterval < 0 {
		errs = append(errs, errors.New("monitor state interval must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

type Option func(*Boss)

func WithNotifier(n events.Notifier) Option {
	return func(b *Boss) {
		if n != nil {
			b.notifier = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Boss) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Boss) {
		if now != nil {
			b.now = now
		}
	}
}

type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// Boss schedules each housekeeping task on its own timer. A task is
// rescheduled interval after its previous run returns, so it never overlaps
// with itself, while different tasks run concurrently.
type Boss struct {
	store    Housekeeper
	cfg      Config
	notifier events.Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	current *generation
	timers  map[string]*time.Timer
}

// generation is one Start..Stop cycle. Its group tracks the runs it fired
// plus whatever the previous generation still had in flight.
type generation struct {
	inflight sync.WaitGroup
}

func New(store Housekeeper, cfg Config, opts ...Option) *Boss {
	b := &Boss{
		store:    store,
		cfg:      cfg,
		notifier: events.Discard,
		logger:   slog.Default(),
		now:      time.Now,
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Boss) tasks() []task {
	tasks := []task{
		{TaskExpire, b.cfg.ExpireCheckInterval, b.expire},
		{TaskArchive, b.cfg.ArchiveCheckInterval, b.archive},
		{TaskPurge, b.cfg.DeleteCheckInterval, b.purge},
	}
	if b.cfg.FailedCheckInterval > 0 {
		tasks = append(tasks, task{TaskRetryFailed, b.cfg.FailedCheckInterval, b.retryFailed})
	}
	if b.cfg.MonitorStateInterval > 0 {
		tasks = append(tasks, task{TaskCountStates, b.cfg.MonitorStateInterval, b.countStates})
	}
	return tasks
}

// Start runs every task once right away and then on its interval. ctx is
// handed to every run; cancelling it does not stop the schedule, Stop does.
func (b *Boss) Start(ctx context.Context) error {
	if err := b.cfg.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrAlreadyRunning
	}
	b.running = true
	gen := &generation{}
	if prev := b.current; prev != nil {
		gen.inflight.Add(1)
		go func() {
			prev.inflight.Wait()
			gen.inflight.Done()
		}()
	}
	b.current = gen

	tasks := b.tasks()
	for _, t := range tasks {
		b.schedule(ctx, gen, t, 0)
	}
	b.logger.Info("supervisor started", "tasks", len(tasks))
	return nil
}

// Stop cancels pending runs and waits for in-flight ones to return or for
// ctx to be done. After a Stop that timed out, calling Stop again waits for
// the runs it left behind.
func (b *Boss) Stop(ctx context.Context) error {
	b.mu.Lock()
	gen := b.current
	if b.running {
		b.running = false
		for name, timer := range b.timers {
			timer.Stop()
			delete(b.timers, name)
		}
	}
	b.mu.Unlock()
	if gen == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		gen.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("supervisor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Boss) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// schedule must be called with b.mu held.
func (b *Boss) schedule(ctx context.Context, gen *generation, t task, after time.Duration) {
	b.timers[t.name] = time.AfterFunc(after, func() { b.fire(ctx, gen, t) })
}

func (b *Boss) fire(ctx context.Context, gen *generation, t task) {
	b.mu.Lock()
	if !b.running || b.current != gen {
		b.mu.Unlock()
		return
	}
	gen.inflight.Add(1)
	b.mu.Unlock()
	defer gen.inflight.Done()

	b.execute(ctx, t)

	b.mu.Lock()
	if b.running && b.current == gen {
		b.schedule(ctx, gen, t, t.interval)
	}
	b.mu.Unlock()
}

func (b *Boss) execute(ctx context.Context, t task) {
	start := time.Now()
	err := safeRun(ctx, t)
	observability.TaskDuration.WithLabelValues(t.name).Observe(time.Since(start).Seconds())

	if err == nil {
		observability.TaskRuns.WithLabelValues(t.name, "ok").Inc()
		return
	}
	observability.TaskRuns.WithLabelValues(t.name, "error").Inc()
	// The error event carries the failure; notifiers decide how to log it.
	b.logger.Debug("housekeeping task failed", "task", t.name, "error", err)
	b.notify(ctx, events.Event{Name: events.Error, Task: t.name, Err: err})
}

func safeRun(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", t.name, r)
		}
	}()
	return t.run(ctx)
}

func (b *Boss) notify(ctx context.Context, e events.Event) {
	if e.At.IsZero() {
		e.At = b.now()
	}
	if err := b.notifier.Notify(ctx, e); err != nil {
		b.logger.Warn("event delivery failed", "event", string(e.Name), "error", err)
	}
}
