package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"job-queue/pkg/events"
)

func TestStreamEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ts := httptest.NewServer(streamEvents(bus, 8))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"?name=archived", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}

	// Headers arrive only after the handler has subscribed.
	_ = bus.Notify(ctx, events.Event{Name: events.Deleted, Count: 1})
	_ = bus.Notify(ctx, events.Event{Name: events.Archived, Count: 7})

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(line, &e); err != nil {
		t.Fatalf("decode %s: %v", line, err)
	}
	if e.Name != events.Archived || e.Count != 7 {
		t.Fatalf("event = %+v", e)
	}
}
