package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"job-queue/pkg/config"
	"job-queue/pkg/job"
)

type fakeAdmin struct {
	migrated    bool
	version     string
	lastReq     job.Request
	inserted    bool
	archiveAge  time.Duration
	purgeAge    time.Duration
	resolvedIDs []uuid.UUID
	counts      job.StateCounts
	expired     []job.Ref
}

func (f *fakeAdmin) InitSchema(context.Context) error { f.migrated = true; return nil }
func (f *fakeAdmin) SchemaVersion(context.Context) (string, error) {
	return f.version, nil
}
func (f *fakeAdmin) Insert(_ context.Context, req job.Request) (uuid.UUID, bool, error) {
	f.lastReq = req
	return uuid.MustParse("22222222-2222-2222-2222-222222222222"), f.inserted, nil
}
func (f *fakeAdmin) Expire(context.Context) ([]job.Ref, error) { return f.expired, nil }
func (f *fakeAdmin) Archive(_ context.Context, d time.Duration) (int64, error) {
	f.archiveAge = d
	return 4, nil
}
func (f *fakeAdmin) Purge(_ context.Context, d time.Duration) (int64, error) {
	f.purgeAge = d
	return 2, nil
}
func (f *fakeAdmin) RetryFailed(context.Context) (int64, error) { return 1, nil }
func (f *fakeAdmin) CountStates(context.Context) (job.StateCounts, error) {
	return f.counts, nil
}
func (f *fakeAdmin) CompleteMany(_ context.Context, ids []uuid.UUID) (int64, error) {
	f.resolvedIDs = ids
	return int64(len(ids)), nil
}
func (f *fakeAdmin) CancelMany(_ context.Context, ids []uuid.UUID) (int64, error) {
	f.resolvedIDs = ids
	return 0, nil
}
func (f *fakeAdmin) FailMany(_ context.Context, ids []uuid.UUID) (int64, error) {
	f.resolvedIDs = ids
	return int64(len(ids)), nil
}

func run(t *testing.T, db *fakeAdmin, args ...string) (string, error) {
	t.Helper()
	cfg := config.Default()
	a := &app{cfg: &cfg, db: db}
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateAndVersion(t *testing.T) {
	db := &fakeAdmin{version: "1"}
	out, err := run(t, db, "migrate")
	if err != nil || !db.migrated || !strings.Contains(out, "jobqueue") {
		t.Fatalf("migrate: out=%q err=%v", out, err)
	}
	out, err = run(t, db, "version")
	if err != nil || strings.TrimSpace(out) != "1" {
		t.Fatalf("version: out=%q err=%v", out, err)
	}
	out, _ = run(t, &fakeAdmin{}, "version")
	if !strings.Contains(out, "not installed") {
		t.Fatalf("version without schema: %q", out)
	}
}

func TestArchiveAndPurgeDefaultsFromConfig(t *testing.T) {
	db := &fakeAdmin{}
	if out, err := run(t, db, "archive"); err != nil || !strings.Contains(out, "archived 4 jobs") {
		t.Fatalf("archive: out=%q err=%v", out, err)
	}
	if db.archiveAge != time.Hour {
		t.Fatalf("archive age = %v", db.archiveAge)
	}
	if _, err := run(t, db, "purge", "--older-than", "48h"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if db.purgeAge != 48*time.Hour {
		t.Fatalf("purge age = %v", db.purgeAge)
	}
}

func TestResolveCommands(t *testing.T) {
	db := &fakeAdmin{}
	a, b := uuid.New(), uuid.New()
	out, err := run(t, db, "complete", a.String(), b.String())
	if err != nil || !strings.Contains(out, "completed 2 of 2 jobs") {
		t.Fatalf("complete: out=%q err=%v", out, err)
	}
	if len(db.resolvedIDs) != 2 || db.resolvedIDs[0] != a {
		t.Fatalf("ids = %v", db.resolvedIDs)
	}

	out, err = run(t, db, "cancel", a.String())
	if err != nil || !strings.Contains(out, "cancelled 0 of 1 jobs") {
		t.Fatalf("cancel: out=%q err=%v", out, err)
	}

	db.resolvedIDs = nil
	if _, err := run(t, db, "fail", "not-an-id"); err == nil {
		t.Fatal("expected error for bad id")
	}
	if db.resolvedIDs != nil {
		t.Fatal("store should not be called with bad ids")
	}
}

func TestInsertCommand(t *testing.T) {
	db := &fakeAdmin{inserted: true}
	out, err := run(t, db, "insert", "email",
		"--data", `{"to":"a@b.c"}`, "--priority", "7", "--start-in", "30s",
		"--singleton-key", "user-1", "--singleton-period", "1m")
	if err != nil || !strings.Contains(out, "Job enqueued: 22222222") {
		t.Fatalf("insert: out=%q err=%v", out, err)
	}
	req := db.lastReq
	if req.Name != "email" || req.Priority != 7 || req.StartIn != 30*time.Second {
		t.Fatalf("request = %+v", req)
	}
	if req.SingletonKey != "user-1" || req.SingletonPeriod != time.Minute || string(req.Data) != `{"to":"a@b.c"}` {
		t.Fatalf("request = %+v", req)
	}

	db.inserted = false
	out, _ = run(t, db, "insert", "email")
	if !strings.Contains(out, "skipped") {
		t.Fatalf("duplicate insert: %q", out)
	}
}

func TestExpireAndRetry(t *testing.T) {
	id := uuid.New()
	db := &fakeAdmin{expired: []job.Ref{{ID: id, Name: "export"}}}
	out, err := run(t, db, "expire")
	if err != nil || !strings.Contains(out, "expired 1 jobs") || !strings.Contains(out, id.String()) {
		t.Fatalf("expire: out=%q err=%v", out, err)
	}
	out, err = run(t, db, "retry-failed")
	if err != nil || !strings.Contains(out, "retried 1 jobs") {
		t.Fatalf("retry-failed: out=%q err=%v", out, err)
	}
}

func TestStatesTable(t *testing.T) {
	email, created := "email", job.StateCreated
	active := job.StateActive
	counts := job.TallyStates([]job.CountRow{
		{Name: &email, State: &created, Size: 3},
		{Name: &email, State: &active, Size: 1},
		{Name: &email, Size: 4},
		{State: &created, Size: 3},
		{State: &active, Size: 1},
		{Size: 4},
	})
	out, err := run(t, &fakeAdmin{counts: counts}, "states")
	if err != nil {
		t.Fatalf("states: %v", err)
	}
	for _, want := range []string{"QUEUE", "CREATED", "FAILED", "email", "(total)"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
