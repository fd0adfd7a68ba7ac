package job

import "time"

// Constraint names which singleton index governs an insert.
type Constraint int

const (
	ConstraintNone Constraint = iota
	ConstraintKey
	ConstraintBucket
	ConstraintKeyBucket
)

func (c Constraint) String() string {
	switch c {
	case ConstraintKey:
		return "singleton_key"
	case ConstraintBucket:
		return "singleton_on"
	case ConstraintKeyBucket:
		return "singleton_key_on"
	default:
		return "none"
	}
}

func (r Request) Constraint() Constraint {
	hasKey := r.SingletonKey != ""
	hasBucket := r.SingletonPeriod > 0
	switch {
	case hasKey && hasBucket:
		return ConstraintKeyBucket
	case hasKey:
		return ConstraintKey
	case hasBucket:
		return ConstraintBucket
	default:
		return ConstraintNone
	}
}

// SingletonBucket returns the start of the time bucket that now falls in:
// floor((epoch(now) + offset) / period) * period, truncated to whole seconds.
// The zero time is returned when period is not positive.
func SingletonBucket(now time.Time, period, offset time.Duration) time.Time {
	secs := int64(period / time.Second)
	if secs <= 0 {
		return time.Time{}
	}
	shifted := now.Unix() + int64(offset/time.Second)
	slot := shifted / secs
	if shifted < 0 && shifted%secs != 0 {
		slot--
	}
	return time.Unix(slot*secs, 0).UTC()
}

// SingletonOn resolves the bucket for r at now, or nil when r has no period.
func (r Request) SingletonOn(now time.Time) *time.Time {
	if r.SingletonPeriod <= 0 {
		return nil
	}
	on := SingletonBucket(now, r.SingletonPeriod, r.SingletonOffset)
	return &on
}

// UniqueIndex is one declarative uniqueness rule. Rows with state below
// Below and matching Where may not share Columns.
type UniqueIndex struct {
	Name    string
	Columns []string
	Below   State
	Where   string
}

// UniqueIndexes is the singleton policy enforced by the store:
//   - one queued or active job per key when there is no bucket;
//   - one job per bucket, whatever its outcome short of expiry, when there is no key;
//   - one job per key per bucket when both are set.
func UniqueIndexes() []UniqueIndex {
	return []UniqueIndex{
		{
			Name:    "job_singleton_key",
			Columns: []string{"name", "singleton_key"},
			Below:   StateComplete,
			Where:   "singleton_on IS NULL",
		},
		{
			Name:    "job_singleton_on",
			Columns: []string{"name", "singleton_on"},
			Below:   StateExpired,
			Where:   "singleton_key IS NULL",
		},
		{
			Name:    "job_singleton_key_on",
			Columns: []string{"name", "singleton_on", "singleton_key"},
			Below:   StateExpired,
		},
	}
}
