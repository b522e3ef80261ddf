package scheduler

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/postpipe/postpipe/errors"
)

// maxPayloadBytes bounds scheduling payloads. The platform caps post
// text well below this; the check here only rejects obvious garbage
// before it reaches the store.
const maxPayloadBytes = 64 * 1024

// Service is the job lifecycle API: the operations callers use to
// create, list, inspect, and cancel jobs. It validates input and
// enforces transition legality before touching the store; it never
// mutates state the dispatcher owns.
type Service struct {
	store *Store
	log   *zap.SugaredLogger
}

// NewService creates the lifecycle API over a store
func NewService(store *Store, log *zap.SugaredLogger) *Service {
	return &Service{
		store: store,
		log:   log.Named("scheduler"),
	}
}

// Schedule validates and creates a pending job due at dueAt (RFC 3339).
// The payload is checked only for shape (non-empty, well-formed JSON);
// its fields belong to the publisher's schema, which the engine treats
// as opaque. A past dueAt is accepted and dispatches on the next tick.
func (s *Service) Schedule(payload json.RawMessage, dueAt string) (*Job, error) {
	if len(payload) == 0 {
		return nil, errors.NewValidation("payload is required")
	}
	if len(payload) > maxPayloadBytes {
		return nil, errors.NewValidation("payload exceeds %d bytes", maxPayloadBytes)
	}
	if !json.Valid(payload) {
		return nil, errors.NewValidation("payload is not valid JSON")
	}

	due, err := time.Parse(time.RFC3339, dueAt)
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation,
			errors.Wrapf(err, "due_at %q is not an RFC 3339 timestamp", dueAt).Error())
	}

	job := NewJob(payload, due)
	if err := s.store.Insert(job); err != nil {
		return nil, err
	}

	s.log.Infow("Job scheduled", "job_id", job.ID, "due_at", job.DueAt)
	return job, nil
}

// List returns jobs by state filter. An empty filter defaults to all
// non-terminal jobs.
func (s *Service) List(filter Filter) ([]*Job, error) {
	if len(filter.States) == 0 {
		filter.States = NonTerminalStates()
	}
	for _, state := range filter.States {
		if !IsValidState(string(state)) {
			return nil, errors.NewValidation("unknown state %q", state)
		}
	}
	return s.store.List(filter)
}

// Get returns full job detail or ErrNotFound
func (s *Service) Get(id string) (*Job, error) {
	return s.store.Get(id)
}

// Cancel cancels a pending job. For a job that is dispatching or
// already terminal the store's state error is surfaced to the caller
// with a hint, and the job is left unchanged.
func (s *Service) Cancel(id string) (*Job, error) {
	job, err := s.store.Cancel(id)
	if err != nil {
		if errors.IsInvalidState(err) {
			return nil, errors.WithHint(err, "cannot cancel: job already dispatching/completed")
		}
		return nil, err
	}

	s.log.Infow("Job cancelled", "job_id", id)
	return job, nil
}
