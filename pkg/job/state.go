package job

import (
	"errors"
	"fmt"
)

type State string

const (
	StateCreated   State = "created"
	StateRetry     State = "retry"
	StateActive    State = "active"
	StateComplete  State = "complete"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

var ErrInvalidState = errors.New("job: invalid state")

// ordinals mirrors the declaration order of the job_state enum in the store.
// Every "state < x" filter in the SQL catalog depends on it.
var ordinals = map[State]int{
	StateCreated:   0,
	StateRetry:     1,
	StateActive:    2,
	StateComplete:  3,
	StateExpired:   4,
	StateCancelled: 5,
	StateFailed:    6,
}

// States returns all states in ordinal order.
func States() []State {
	return []State{
		StateCreated,
		StateRetry,
		StateActive,
		StateComplete,
		StateExpired,
		StateCancelled,
		StateFailed,
	}
}

// Ordinal returns the position of s in the enum, or -1 if s is unknown.
func (s State) Ordinal() int {
	if n, ok := ordinals[s]; ok {
		return n
	}
	return -1
}

// Less reports whether s sorts before other. Unknown states never compare less.
func (s State) Less(other State) bool {
	a, b := s.Ordinal(), other.Ordinal()
	if a < 0 || b < 0 {
		return false
	}
	return a < b
}

func (s State) Valid() bool { return s.Ordinal() >= 0 }

// IsOpen is true for jobs that have not finished: created, retry and active.
func (s State) IsOpen() bool {
	return s.Valid() && s.Less(StateComplete)
}

// IsTerminal is true for complete, expired, cancelled and failed.
func (s State) IsTerminal() bool {
	return s.Valid() && !s.IsOpen()
}

// Claimable is true for states the fetch command may pick up.
func (s State) Claimable() bool {
	return s.Valid() && s.Less(StateActive)
}

func ParseState(v string) (State, error) {
	s := State(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, v)
	}
	return s, nil
}
