// Package scheduler implements the scheduled-post execution engine:
// a durable queue of pending publication jobs, the state machine each
// job moves through, and the dispatcher that executes due jobs.
package scheduler

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State represents the current state of a scheduled job
type State string

const (
	StatePending     State = "pending"     // waiting for due time
	StateDispatching State = "dispatching" // claimed by a dispatcher, publish in flight
	StateCompleted   State = "completed"   // published; terminal
	StateFailed      State = "failed"      // exhausted retries or failed permanently; terminal
	StateCancelled   State = "cancelled"   // cancelled before dispatch; terminal
)

// IsValidState returns true if the string is a valid State
func IsValidState(s string) bool {
	switch State(s) {
	case StatePending, StateDispatching, StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state admits no further transitions.
// Terminal jobs are immutable and retained for audit.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// transitions is the legal edge set of the job state machine.
// Any edge not listed here is rejected with ErrInvalidState.
var transitions = map[State][]State{
	StatePending:     {StateDispatching, StateCancelled},
	StateDispatching: {StateCompleted, StatePending, StateFailed},
}

// CanTransition reports whether from → to is a legal edge
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NonTerminalStates returns the states a live job can be in
func NonTerminalStates() []State {
	return []State{StatePending, StateDispatching}
}

// Job represents one scheduled publication request and its execution
// state. The payload is opaque to the engine: it is forwarded verbatim
// to the publisher, which owns its schema.
type Job struct {
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	DueAt        time.Time       `json:"due_at"`
	State        State           `json:"state"`
	AttemptCount int             `json:"attempt_count"`
	LastError    string          `json:"last_error,omitempty"`
	ResultRef    string          `json:"result_ref,omitempty"` // remote post reference, set on completion
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewJob creates a pending job due at the given time. DueAt may be in
// the past; such a job is claimed on the next dispatcher tick.
func NewJob(payload json.RawMessage, dueAt time.Time) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Payload:   payload,
		DueAt:     dueAt.UTC(),
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
