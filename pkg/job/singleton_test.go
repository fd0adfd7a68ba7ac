package job

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestSingletonBucket(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 7, 42, 0, time.UTC)

	tests := []struct {
		name   string
		period time.Duration
		offset time.Duration
		want   time.Time
	}{
		{"minute", time.Minute, 0, time.Date(2024, 3, 1, 10, 7, 0, 0, time.UTC)},
		{"five minutes", 5 * time.Minute, 0, time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)},
		{"hour", time.Hour, 0, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"next slot", time.Minute, time.Minute, time.Date(2024, 3, 1, 10, 8, 0, 0, time.UTC)},
		{"no period", 0, 0, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SingletonBucket(base, tt.period, tt.offset)
			if !got.Equal(tt.want) {
				t.Errorf("SingletonBucket = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSingletonBucketSameAndDifferentWindows(t *testing.T) {
	a := time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC)
	b := time.Date(2024, 3, 1, 10, 0, 59, 0, time.UTC)
	c := time.Date(2024, 3, 1, 10, 1, 0, 0, time.UTC)

	if !SingletonBucket(a, time.Minute, 0).Equal(SingletonBucket(b, time.Minute, 0)) {
		t.Error("times in the same minute should share a bucket")
	}
	if SingletonBucket(b, time.Minute, 0).Equal(SingletonBucket(c, time.Minute, 0)) {
		t.Error("times in different minutes should not share a bucket")
	}
}

func TestRequestConstraint(t *testing.T) {
	tests := []struct {
		req  Request
		want Constraint
	}{
		{Request{Name: "a"}, ConstraintNone},
		{Request{Name: "a", SingletonKey: "k"}, ConstraintKey},
		{Request{Name: "a", SingletonPeriod: time.Minute}, ConstraintBucket},
		{Request{Name: "a", SingletonKey: "k", SingletonPeriod: time.Minute}, ConstraintKeyBucket},
	}
	for _, tt := range tests {
		if got := tt.req.Constraint(); got != tt.want {
			t.Errorf("Constraint() = %s, want %s", got, tt.want)
		}
	}
}

func TestRequestSingletonOn(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 7, 42, 0, time.UTC)
	if (Request{Name: "a"}).SingletonOn(now) != nil {
		t.Error("expected nil bucket without a period")
	}
	on := (Request{Name: "a", SingletonPeriod: time.Hour}).SingletonOn(now)
	if on == nil || !on.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("SingletonOn = %v", on)
	}
}

func TestUniqueIndexesBounds(t *testing.T) {
	idx := UniqueIndexes()
	if len(idx) != 3 {
		t.Fatalf("expected 3 indexes, got %d", len(idx))
	}
	if idx[0].Below != StateComplete {
		t.Errorf("key index should cover open jobs only, got below %s", idx[0].Below)
	}
	for _, i := range idx[1:] {
		if i.Below != StateExpired {
			t.Errorf("%s should cover jobs below expired, got %s", i.Name, i.Below)
		}
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"minimal", Request{Name: "email"}, true},
		{"with data", Request{Name: "email", Data: json.RawMessage(`{"to":"a@b"}`)}, true},
		{"missing name", Request{Name: "  "}, false},
		{"negative retry", Request{Name: "email", RetryLimit: -1}, false},
		{"offset without period", Request{Name: "email", SingletonOffset: time.Minute}, false},
		{"sub-second period", Request{Name: "email", SingletonPeriod: time.Millisecond}, false},
		{"bad json", Request{Name: "email", Data: json.RawMessage(`{`)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestRequestNormalize(t *testing.T) {
	r := Request{Name: "a", StartInSeconds: 5, ExpireInSeconds: 60, SingletonSeconds: 300, SingletonOffsetSeconds: 300}
	r.Normalize()
	if r.StartIn != 5*time.Second || r.ExpireIn != time.Minute || r.SingletonPeriod != 5*time.Minute || r.SingletonOffset != 5*time.Minute {
		t.Fatalf("unexpected durations: %+v", r)
	}
}

func TestParseID(t *testing.T) {
	if _, err := ParseID("not-a-uuid"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := ParseIDs([]string{"6f1c2f7e-3a55-4d5b-9d52-4c7d6b0f2a11", "x"}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID for batch, got %v", err)
	}
	id, err := ParseID(" 6f1c2f7e-3a55-4d5b-9d52-4c7d6b0f2a11 ")
	if err != nil || id.String() != "6f1c2f7e-3a55-4d5b-9d52-4c7d6b0f2a11" {
		t.Fatalf("ParseID = %s, %v", id, err)
	}
}
