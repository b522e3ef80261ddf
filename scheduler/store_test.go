package scheduler

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpipe/postpipe/errors"
	pptest "github.com/postpipe/postpipe/internal/testing"
)

func testPayload() json.RawMessage {
	return json.RawMessage(`{"commentary":"hello world","visibility":"PUBLIC"}`)
}

func TestInsertAndGet(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	job := NewJob(testPayload(), time.Now().Add(time.Hour))
	require.NoError(t, store.Insert(job))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, StatePending, got.State)
	assert.JSONEq(t, string(testPayload()), string(got.Payload))
	assert.Equal(t, 0, got.AttemptCount)
}

func TestInsertDuplicateID(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	job := NewJob(testPayload(), time.Now())
	require.NoError(t, store.Insert(job))

	err := store.Insert(job)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestGetUnknownID(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	_, err := store.Get("no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestListByState(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	pending := NewJob(testPayload(), time.Now())
	require.NoError(t, store.Insert(pending))

	cancelled := NewJob(testPayload(), time.Now().Add(time.Hour))
	require.NoError(t, store.Insert(cancelled))
	_, err := store.Cancel(cancelled.ID)
	require.NoError(t, err)

	jobs, err := store.List(Filter{States: []State{StatePending}})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, pending.ID, jobs[0].ID)

	jobs, err = store.List(Filter{States: []State{StateCancelled}})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, cancelled.ID, jobs[0].ID)

	// Empty state filter selects everything
	jobs, err = store.List(Filter{})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestListLimit(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(NewJob(testPayload(), time.Now())))
	}

	jobs, err := store.List(Filter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestClaimDue(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))
	now := time.Now()

	past := NewJob(testPayload(), now.Add(-10*time.Minute))
	require.NoError(t, store.Insert(past))
	future := NewJob(testPayload(), now.Add(10*time.Minute))
	require.NoError(t, store.Insert(future))

	claimed, err := store.ClaimDue(now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, past.ID, claimed[0].ID)
	assert.Equal(t, StateDispatching, claimed[0].State)

	// The claimed job is not claimable again while dispatching
	claimed, err = store.ClaimDue(now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// The future job stays pending
	got, err := store.Get(future.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
}

func TestClaimDueRespectsLimit(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))
	now := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(NewJob(testPayload(), now.Add(-time.Minute))))
	}

	claimed, err := store.ClaimDue(now, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)

	claimed, err = store.ClaimDue(now, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 3)
}

// Exclusivity: under concurrent claims against the same due job,
// exactly one caller observes it in the claimed batch.
func TestClaimDueExclusive(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))
	now := time.Now()

	job := NewJob(testPayload(), now.Add(-time.Second))
	require.NoError(t, store.Insert(job))

	const workers = 8
	results := make([][]*Job, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := store.ClaimDue(now, 10)
			assert.NoError(t, err)
			results[i] = claimed
		}(i)
	}
	wg.Wait()

	total := 0
	for _, claimed := range results {
		total += len(claimed)
	}
	assert.Equal(t, 1, total, "exactly one worker should claim the job")
}

func TestRecordOutcomeCompleted(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	job := NewJob(testPayload(), time.Now().Add(-time.Second))
	require.NoError(t, store.Insert(job))
	claimed, err := store.ClaimDue(time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	updated, err := store.RecordOutcome(job.ID, CompletedOutcome("urn:li:share:123"))
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, updated.State)
	assert.Equal(t, "urn:li:share:123", updated.ResultRef)
	assert.Empty(t, updated.LastError)
	// Claiming does not count an attempt; only the outcome does, and
	// a completed first attempt counts zero failures
	assert.Equal(t, 0, updated.AttemptCount)
}

func TestRecordOutcomeRetry(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	job := NewJob(testPayload(), time.Now().Add(-time.Second))
	require.NoError(t, store.Insert(job))
	_, err := store.ClaimDue(time.Now(), 1)
	require.NoError(t, err)

	updated, err := store.RecordOutcome(job.ID, RetryOutcome(errors.New("connection reset")))
	require.NoError(t, err)
	assert.Equal(t, StatePending, updated.State)
	assert.Equal(t, 1, updated.AttemptCount)
	assert.Contains(t, updated.LastError, "connection reset")

	// Back in pending, the job is claimable again
	claimed, err := store.ClaimDue(time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, job.ID, claimed[0].ID)
}

func TestRecordOutcomeFailed(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	job := NewJob(testPayload(), time.Now().Add(-time.Second))
	require.NoError(t, store.Insert(job))
	_, err := store.ClaimDue(time.Now(), 1)
	require.NoError(t, err)

	updated, err := store.RecordOutcome(job.ID, FailedOutcome(errors.New("payload rejected")))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, updated.State)
	assert.Equal(t, 1, updated.AttemptCount)
	assert.Contains(t, updated.LastError, "payload rejected")
}

func TestRecordOutcomeGuardsState(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	job := NewJob(testPayload(), time.Now().Add(-time.Second))
	require.NoError(t, store.Insert(job))

	// Not dispatching yet: recording an outcome is illegal
	_, err := store.RecordOutcome(job.ID, CompletedOutcome("ref"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))

	// Duplicate outcome recording is rejected
	_, err = store.ClaimDue(time.Now(), 1)
	require.NoError(t, err)
	_, err = store.RecordOutcome(job.ID, CompletedOutcome("ref"))
	require.NoError(t, err)
	_, err = store.RecordOutcome(job.ID, CompletedOutcome("ref-again"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))

	// The first outcome stands
	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "ref", got.ResultRef)

	// Unknown id reports not-found, not a state error
	_, err = store.RecordOutcome("no-such-job", CompletedOutcome("ref"))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestCancelPending(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	job := NewJob(testPayload(), time.Now().Add(time.Hour))
	require.NoError(t, store.Insert(job))

	cancelled, err := store.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, cancelled.State)

	// A cancelled job is never claimed, even once due
	claimed, err := store.ClaimDue(time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestCancelGuardsState(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	// Dispatching: cannot cancel, the remote call may already have effect
	job := NewJob(testPayload(), time.Now().Add(-time.Second))
	require.NoError(t, store.Insert(job))
	_, err := store.ClaimDue(time.Now(), 1)
	require.NoError(t, err)

	_, err = store.Cancel(job.ID)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDispatching, got.State, "failed cancel must leave the record unchanged")

	// Already cancelled: cancelling again is an error
	other := NewJob(testPayload(), time.Now().Add(time.Hour))
	require.NoError(t, store.Insert(other))
	_, err = store.Cancel(other.ID)
	require.NoError(t, err)
	_, err = store.Cancel(other.ID)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))

	// Unknown id
	_, err = store.Cancel("no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestCountByState(t *testing.T) {
	store := NewStore(pptest.CreateTestDB(t))

	require.NoError(t, store.Insert(NewJob(testPayload(), time.Now())))
	require.NoError(t, store.Insert(NewJob(testPayload(), time.Now())))
	cancelled := NewJob(testPayload(), time.Now().Add(time.Hour))
	require.NoError(t, store.Insert(cancelled))
	_, err := store.Cancel(cancelled.ID)
	require.NoError(t, err)

	counts, err := store.CountByState()
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StatePending])
	assert.Equal(t, 1, counts[StateCancelled])
}
