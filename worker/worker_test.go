package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"job-queue/pkg/job"
)

type fakeQueue struct {
	mu        sync.Mutex
	pending   []job.Ref
	completed []uuid.UUID
	failed    []uuid.UUID
	fetchErr  error
	gone      map[uuid.UUID]bool
}

func (f *fakeQueue) Fetch(_ context.Context, _ string, batchSize int) ([]job.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	n := batchSize
	if n > len(f.pending) {
		n = len(f.pending)
	}
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeQueue) Complete(_ context.Context, id uuid.UUID) (*job.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[id] {
		return nil, nil
	}
	f.completed = append(f.completed, id)
	return &job.Ref{ID: id}, nil
}

func (f *fakeQueue) Fail(_ context.Context, id uuid.UUID) (*job.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return &job.Ref{ID: id}, nil
}

func testWorker(q queue, process processFunc) *worker {
	return &worker{
		db:           q,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		process:      process,
		batchSize:    2,
		pollInterval: time.Millisecond,
	}
}

func TestPollOnceCompletesAndFails(t *testing.T) {
	ok, bad := uuid.New(), uuid.New()
	q := &fakeQueue{pending: []job.Ref{{ID: ok, Name: "email"}, {ID: bad, Name: "email"}}}
	w := testWorker(q, func(_ context.Context, ref job.Ref) error {
		if ref.ID == bad {
			return errors.New("smtp down")
		}
		return nil
	})

	n, err := w.pollOnce(context.Background(), w.logger, "email")
	if err != nil || n != 2 {
		t.Fatalf("pollOnce = %d, %v", n, err)
	}
	if len(q.completed) != 1 || q.completed[0] != ok {
		t.Fatalf("completed = %v", q.completed)
	}
	if len(q.failed) != 1 || q.failed[0] != bad {
		t.Fatalf("failed = %v", q.failed)
	}
}

func TestPollOnceToleratesLostJob(t *testing.T) {
	id := uuid.New()
	q := &fakeQueue{pending: []job.Ref{{ID: id, Name: "email"}}, gone: map[uuid.UUID]bool{id: true}}
	w := testWorker(q, func(context.Context, job.Ref) error { return nil })

	if _, err := w.pollOnce(context.Background(), w.logger, "email"); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if len(q.completed) != 0 {
		t.Fatalf("completed = %v", q.completed)
	}
}

func TestPollOnceReturnsFetchError(t *testing.T) {
	q := &fakeQueue{fetchErr: errors.New("pool closed")}
	w := testWorker(q, nil)
	if _, err := w.pollOnce(context.Background(), w.logger, "email"); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	q := &fakeQueue{}
	for i := 0; i < 20; i++ {
		q.pending = append(q.pending, job.Ref{ID: uuid.New(), Name: "email"})
	}
	w := testWorker(q, func(context.Context, job.Ref) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go w.run(ctx, &wg, "email", 4)

	deadline := time.Now().Add(2 * time.Second)
	for {
		q.mu.Lock()
		done := len(q.completed)
		q.mu.Unlock()
		if done == 20 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("completed %d of 20", done)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	wg.Wait()

	seen := map[uuid.UUID]bool{}
	for _, id := range q.completed {
		if seen[id] {
			t.Fatalf("job %s completed twice", id)
		}
		seen[id] = true
	}
}

func TestProcessJobUnknownName(t *testing.T) {
	if err := processJob(context.Background(), job.Ref{Name: "mystery"}); err == nil {
		t.Fatal("expected error for unknown job name")
	}
}
