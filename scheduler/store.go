package scheduler

import (
	"database/sql"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/postpipe/postpipe/errors"
)

// DefaultListLimit bounds List results when the filter does not set one
const DefaultListLimit = 50

// timeFormat is the canonical timestamp encoding in the store. All
// values are UTC, so lexicographic comparison on due_at is consistent
// with time ordering and claim queries can compare strings directly.
const timeFormat = time.RFC3339

// Store is the durable table of scheduled jobs. It is the sole shared
// mutable resource: all coordination between the lifecycle API and
// dispatcher instances (including overlapping ones during a deploy or
// crash-restart) happens through conditional updates here, never
// through in-process locks.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store over an already-migrated database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, payload, due_at, state, attempt_count, last_error, result_ref, created_at, updated_at`

// Insert persists a new job. Returns ErrConflict if the id already
// exists; an id collision is an id-generation bug, not a retry case.
func (s *Store) Insert(job *Job) error {
	query := `
		INSERT INTO scheduled_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	_, err := s.db.Exec(query,
		job.ID,
		string(job.Payload),
		job.DueAt.UTC().Format(timeFormat),
		job.State,
		job.AttemptCount,
		nullable(job.LastError),
		nullable(job.ResultRef),
		now.Format(timeFormat),
		now.Format(timeFormat),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return errors.Wrapf(errors.ErrConflict, "job id %s already exists", job.ID)
		}
		return errors.Wrap(err, "failed to insert job")
	}

	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// Get retrieves a job by id, or ErrNotFound
func (s *Store) Get(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// Filter selects jobs for List
type Filter struct {
	States []State // empty selects all states
	Limit  int     // <= 0 falls back to DefaultListLimit
}

// List returns jobs matching the filter, ordered by due time ascending.
// No ordering guarantee is part of the contract; the order is for
// human-friendly listings only.
func (s *Store) List(filter Filter) ([]*Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	var args []interface{}

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			placeholders[i] = "?"
			args = append(args, state)
		}
		query += ` WHERE state IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY due_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

// ClaimDue atomically claims up to limit due pending jobs, moving each
// to dispatching, and returns the claimed jobs.
//
// The select and the per-row conditional update run inside one
// transaction, and the update re-checks state = 'pending'. SQLite
// serializes writers, so if a concurrent dispatcher claims a row
// between our read and our write, the re-check sees 0 rows affected
// and the job is skipped rather than double-claimed.
func (s *Store) ClaimDue(now time.Time, limit int) ([]*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE state = ? AND due_at <= ?
		ORDER BY due_at ASC
		LIMIT ?`,
		StatePending, now.UTC().Format(timeFormat), limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select due jobs")
	}

	var candidates []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan due job")
		}
		candidates = append(candidates, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "error iterating due jobs")
	}
	rows.Close()

	claimedAt := time.Now().UTC()
	var claimed []*Job
	for _, job := range candidates {
		res, err := tx.Exec(`
			UPDATE scheduled_jobs
			SET state = ?, updated_at = ?
			WHERE id = ? AND state = ?`,
			StateDispatching, claimedAt.Format(timeFormat), job.ID, StatePending,
		)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to claim job %s", job.ID)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get rows affected")
		}
		if affected == 0 {
			// Claimed by a concurrent dispatcher, or cancelled
			// between our read and write. Skip it.
			continue
		}
		job.State = StateDispatching
		job.UpdatedAt = claimedAt
		claimed = append(claimed, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit claim transaction")
	}
	return claimed, nil
}

// Outcome is the result of one dispatch attempt, built with
// CompletedOutcome, RetryOutcome, or FailedOutcome.
type Outcome struct {
	state     State
	resultRef string
	errMsg    string
}

// CompletedOutcome records a successful publish with the remote
// platform's post reference. Clears any previous error.
func CompletedOutcome(resultRef string) Outcome {
	return Outcome{state: StateCompleted, resultRef: resultRef}
}

// RetryOutcome returns the job to pending for a later tick, recording
// the failure and counting the attempt.
func RetryOutcome(err error) Outcome {
	return Outcome{state: StatePending, errMsg: err.Error()}
}

// FailedOutcome moves the job to its failed terminal state, recording
// the failure and counting the attempt.
func FailedOutcome(err error) Outcome {
	return Outcome{state: StateFailed, errMsg: err.Error()}
}

// RecordOutcome applies a dispatch outcome to a job currently in
// dispatching. Returns ErrInvalidState if the job is in any other
// state, which guards against duplicate outcome recording; ErrNotFound
// if the job does not exist.
func (s *Store) RecordOutcome(id string, outcome Outcome) (*Job, error) {
	now := time.Now().UTC().Format(timeFormat)

	var res sql.Result
	var err error
	if outcome.state == StateCompleted {
		res, err = s.db.Exec(`
			UPDATE scheduled_jobs
			SET state = ?, result_ref = ?, last_error = NULL, updated_at = ?
			WHERE id = ? AND state = ?`,
			StateCompleted, outcome.resultRef, now, id, StateDispatching,
		)
	} else {
		// Attempt count only moves while dispatching, one per outcome
		res, err = s.db.Exec(`
			UPDATE scheduled_jobs
			SET state = ?, last_error = ?, attempt_count = attempt_count + 1, updated_at = ?
			WHERE id = ? AND state = ?`,
			outcome.state, outcome.errMsg, now, id, StateDispatching,
		)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to record outcome for job %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		job, getErr := s.Get(id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, errors.NewInvalidState(id, string(job.State), "record outcome")
	}

	return s.Get(id)
}

// Cancel transitions a pending job to cancelled. A job mid-dispatch
// cannot be cancelled: the remote call may already have taken effect.
// Returns ErrInvalidState (with the current state attached) for any
// non-pending job, ErrNotFound for an unknown id.
func (s *Store) Cancel(id string) (*Job, error) {
	now := time.Now().UTC().Format(timeFormat)

	res, err := s.db.Exec(`
		UPDATE scheduled_jobs
		SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		StateCancelled, now, id, StatePending,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to cancel job %s", id)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		job, getErr := s.Get(id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, errors.NewInvalidState(id, string(job.State), "cancel")
	}

	return s.Get(id)
}

// CountByState returns job counts per state (for `postpipe db stats`)
func (s *Store) CountByState() (map[State]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM scheduled_jobs GROUP BY state`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var state State
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan count")
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var payload string
	var dueAt, createdAt, updatedAt string
	var lastError, resultRef sql.NullString

	err := row.Scan(
		&job.ID,
		&payload,
		&dueAt,
		&job.State,
		&job.AttemptCount,
		&lastError,
		&resultRef,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = []byte(payload)
	job.LastError = lastError.String
	job.ResultRef = resultRef.String

	if job.DueAt, err = time.Parse(timeFormat, dueAt); err != nil {
		return nil, errors.Wrapf(err, "invalid due_at for job %s", job.ID)
	}
	if job.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, errors.Wrapf(err, "invalid created_at for job %s", job.ID)
	}
	if job.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "invalid updated_at for job %s", job.ID)
	}

	return &job, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
