package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidID      = errors.New("job: invalid id")
	ErrInvalidRequest = errors.New("job: invalid request")
)

// Job is a row of the job table, or of the archive when ArchivedOn is set.
type Job struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Priority     int             `json:"priority"`
	Data         json.RawMessage `json:"data,omitempty"`
	State        State           `json:"state"`
	RetryLimit   int             `json:"retry_limit"`
	RetryCount   int             `json:"retry_count"`
	StartIn      time.Duration   `json:"-"`
	StartedOn    *time.Time      `json:"started_on,omitempty"`
	SingletonKey *string         `json:"singleton_key,omitempty"`
	SingletonOn  *time.Time      `json:"singleton_on,omitempty"`
	ExpireIn     time.Duration   `json:"-"`
	CreatedOn    time.Time       `json:"created_on"`
	CompletedOn  *time.Time      `json:"completed_on,omitempty"`
	ArchivedOn   *time.Time      `json:"archived_on,omitempty"`
}

type jobJSON struct {
	plainJob
	StartInSeconds  float64 `json:"start_in_seconds"`
	ExpireInSeconds float64 `json:"expire_in_seconds"`
}

type plainJob Job

// MarshalJSON writes start_in and expire_in as seconds, the unit Request
// accepts them in.
func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{
		plainJob:        plainJob(j),
		StartInSeconds:  j.StartIn.Seconds(),
		ExpireInSeconds: j.ExpireIn.Seconds(),
	})
}

func (j *Job) UnmarshalJSON(b []byte) error {
	var v jobJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*j = Job(v.plainJob)
	j.StartIn = time.Duration(v.StartInSeconds * float64(time.Second))
	j.ExpireIn = time.Duration(v.ExpireInSeconds * float64(time.Second))
	return nil
}

// Ref is what claim, resolve and expire commands hand back.
type Ref struct {
	ID   uuid.UUID       `json:"id"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request describes a job to insert. Zero durations mean "use the default"
// for ExpireIn and "immediately" for StartIn.
type Request struct {
	ID              uuid.UUID       `json:"id,omitempty"`
	Name            string          `json:"name"`
	Priority        int             `json:"priority"`
	Data            json.RawMessage `json:"data,omitempty"`
	RetryLimit      int             `json:"retry_limit"`
	StartIn         time.Duration   `json:"-"`
	ExpireIn        time.Duration   `json:"-"`
	SingletonKey    string          `json:"singleton_key,omitempty"`
	SingletonPeriod time.Duration   `json:"-"`
	SingletonOffset time.Duration   `json:"-"`

	StartInSeconds         int `json:"start_in_seconds,omitempty"`
	ExpireInSeconds        int `json:"expire_in_seconds,omitempty"`
	SingletonSeconds       int `json:"singleton_seconds,omitempty"`
	SingletonOffsetSeconds int `json:"singleton_offset_seconds,omitempty"`
}

// Normalize folds the wire-level *Seconds fields into the durations.
func (r *Request) Normalize() {
	if r.StartIn == 0 && r.StartInSeconds > 0 {
		r.StartIn = time.Duration(r.StartInSeconds) * time.Second
	}
	if r.ExpireIn == 0 && r.ExpireInSeconds > 0 {
		r.ExpireIn = time.Duration(r.ExpireInSeconds) * time.Second
	}
	if r.SingletonPeriod == 0 && r.SingletonSeconds > 0 {
		r.SingletonPeriod = time.Duration(r.SingletonSeconds) * time.Second
	}
	if r.SingletonOffset == 0 && r.SingletonOffsetSeconds != 0 {
		r.SingletonOffset = time.Duration(r.SingletonOffsetSeconds) * time.Second
	}
}

func (r Request) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if r.RetryLimit < 0 {
		errs = append(errs, errors.New("retry_limit must be >= 0"))
	}
	if r.StartIn < 0 {
		errs = append(errs, errors.New("start_in must be >= 0"))
	}
	if r.ExpireIn < 0 {
		errs = append(errs, errors.New("expire_in must be >= 0"))
	}
	if r.SingletonPeriod < 0 {
		errs = append(errs, errors.New("singleton period must be >= 0"))
	}
	if r.SingletonPeriod > 0 && r.SingletonPeriod < time.Second {
		errs = append(errs, errors.New("singleton period must be at least one second"))
	}
	if r.SingletonOffset != 0 && r.SingletonPeriod == 0 {
		errs = append(errs, errors.New("singleton offset requires a singleton period"))
	}
	if len(r.Data) > 0 && !json.Valid(r.Data) {
		errs = append(errs, errors.New("data must be valid JSON"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, errors.Join(errs...))
	}
	return nil
}

func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

func ParseIDs(values []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := ParseID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
