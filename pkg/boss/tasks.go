package boss

import (
	"context"

	"job-queue/pkg/events"
)

func (b *Boss) expire(ctx context.Context) error {
	refs, err := b.store.Expire(ctx)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}
	b.notify(ctx, events.Event{Name: events.ExpiredCount, Task: TaskExpire, Count: int64(len(refs))})
	for i := range refs {
		b.notify(ctx, events.Event{Name: events.ExpiredJob, Task: TaskExpire, Job: &refs[i]})
	}
	return nil
}

func (b *Boss) archive(ctx context.Context) error {
	n, err := b.store.Archive(ctx, b.cfg.ArchiveCompletedAfter)
	if err != nil {
		return err
	}
	if n > 0 {
		b.notify(ctx, events.Event{Name: events.Archived, Task: TaskArchive, Count: n})
	}
	return nil
}

func (b *Boss) purge(ctx context.Context) error {
	n, err := b.store.Purge(ctx, b.cfg.DeleteArchivedAfter)
	if err != nil {
		return err
	}
	if n > 0 {
		b.notify(ctx, events.Event{Name: events.Deleted, Task: TaskPurge, Count: n})
	}
	return nil
}

func (b *Boss) retryFailed(ctx context.Context) error {
	n, err := b.store.RetryFailed(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		b.notify(ctx, events.Event{Name: events.Retried, Task: TaskRetryFailed, Count: n})
	}
	return nil
}

// countStates reports on every run, including an all-zero snapshot.
func (b *Boss) countStates(ctx context.Context) error {
	counts, err := b.store.CountStates(ctx)
	if err != nil {
		return err
	}
	b.notify(ctx, events.Event{Name: events.MonitorStates, Task: TaskCountStates, States: &counts})
	return nil
}
