package mq

import (
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"job-queue/pkg/events"
	"job-queue/pkg/job"
)

func TestRoutingKeyIsEventName(t *testing.T) {
	for _, name := range []events.Name{events.Archived, events.ExpiredJob, events.Error, events.MonitorStates} {
		if got := routingKey(events.Event{Name: name}); got != string(name) {
			t.Errorf("routingKey(%s) = %q", name, got)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)
	counts := job.NewStateCounts()
	counts.All = 9
	in := events.Event{Name: events.MonitorStates, Task: "count-states", States: &counts, At: at}

	msg, err := encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("publishing = %+v", msg)
	}
	if msg.Type != "monitor-states" || !msg.Timestamp.Equal(at) {
		t.Fatalf("headers = %q %v", msg.Type, msg.Timestamp)
	}

	out, err := decode(msg.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Name != in.Name || out.States == nil || out.States.All != 9 {
		t.Fatalf("decoded = %+v", out)
	}
}

func TestDecodeKeepsErrorText(t *testing.T) {
	msg, err := encode(events.Event{Name: events.Error, Task: "purge", Err: errors.New("timeout")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decode(msg.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Err == nil || out.Err.Error() != "timeout" || out.Task != "purge" {
		t.Fatalf("decoded = %+v", out)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := decode([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid json")
	}
	if _, err := decode([]byte(`{"count":1}`)); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestNewRequiresSettings(t *testing.T) {
	if _, err := New("", "x"); err == nil {
		t.Fatal("expected error for empty url")
	}
	if _, err := New("amqp://localhost", ""); err == nil {
		t.Fatal("expected error for empty exchange")
	}
	if ErrorsQueue("jobqueue.events") != "jobqueue.events.errors" {
		t.Fatal("unexpected errors queue name")
	}
}
