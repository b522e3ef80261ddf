package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewJob(t *testing.T) {
	due := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	job := NewJob(json.RawMessage(`{"commentary":"hello"}`), due)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatePending, job.State)
	assert.Equal(t, 0, job.AttemptCount)
	assert.Equal(t, due, job.DueAt)
	assert.Empty(t, job.LastError)
	assert.Empty(t, job.ResultRef)
}

func TestNewJobUniqueIDs(t *testing.T) {
	a := NewJob(json.RawMessage(`{}`), time.Now())
	b := NewJob(json.RawMessage(`{}`), time.Now())
	assert.NotEqual(t, a.ID, b.ID)
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateDispatching.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
}

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to State }{
		{StatePending, StateDispatching},
		{StatePending, StateCancelled},
		{StateDispatching, StateCompleted},
		{StateDispatching, StatePending},
		{StateDispatching, StateFailed},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to State }{
		{StatePending, StateCompleted},
		{StatePending, StateFailed},
		{StateDispatching, StateCancelled},
		{StateCompleted, StatePending},
		{StateCompleted, StateDispatching},
		{StateFailed, StatePending},
		{StateCancelled, StatePending},
		{StateCancelled, StateDispatching},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestIsValidState(t *testing.T) {
	for _, s := range []string{"pending", "dispatching", "completed", "failed", "cancelled"} {
		assert.True(t, IsValidState(s))
	}
	assert.False(t, IsValidState("queued"))
	assert.False(t, IsValidState(""))
}
