package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/postpipe/postpipe/config"
	"github.com/postpipe/postpipe/errors"
	"github.com/postpipe/postpipe/platform"
)

// Dispatcher periodically advances due jobs from pending to a terminal
// or retry state. It owns its own lifecycle (Start/Stop) and takes the
// store, token source, and publisher as constructor dependencies so it
// can be exercised without real network or disk.
//
// Multiple dispatcher instances may run against the same store (deploy
// overlap, crash-restart race); exclusivity of claims comes from the
// store's conditional updates, not from anything in this struct.
type Dispatcher struct {
	store     *Store
	tokens    platform.TokenSource
	publisher platform.Publisher
	cfg       config.DispatcherConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.SugaredLogger

	mu         sync.Mutex
	lastTickAt time.Time
	tickCount  int64
}

// NewDispatcher creates a dispatcher. Call Start to begin polling, or
// Tick directly for single-shot operation.
func NewDispatcher(store *Store, tokens platform.TokenSource, publisher platform.Publisher, cfg config.DispatcherConfig, log *zap.SugaredLogger) *Dispatcher {
	return NewDispatcherWithContext(context.Background(), store, tokens, publisher, cfg, log)
}

// NewDispatcherWithContext creates a dispatcher whose lifetime is bound
// to a parent context. Useful for tests and shutdown coordination.
func NewDispatcherWithContext(ctx context.Context, store *Store, tokens platform.TokenSource, publisher platform.Publisher, cfg config.DispatcherConfig, log *zap.SugaredLogger) *Dispatcher {
	dispatcherCtx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		store:     store,
		tokens:    tokens,
		publisher: publisher,
		cfg:       cfg,
		ctx:       dispatcherCtx,
		cancel:    cancel,
		log:       log.Named("dispatcher"),
	}
}

// Start begins the poll loop
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	d.log.Infow("Dispatcher started",
		"poll_interval", d.cfg.PollInterval(),
		"batch_size", d.cfg.BatchSize,
		"max_attempts", d.cfg.MaxAttempts,
	)
}

// Stop cancels the poll loop and waits for the in-flight tick to
// finish. A publish already in flight is not interrupted; its outcome
// is recorded before the worker exits.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.log.Infow("Dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case tickTime := <-ticker.C:
			d.mu.Lock()
			d.lastTickAt = tickTime
			d.tickCount++
			d.mu.Unlock()

			if err := d.Tick(d.ctx, time.Now()); err != nil {
				// Store unavailability aborts the tick; the next
				// scheduled tick retries
				d.log.Errorw("Tick aborted", "error", err)
			}
		}
	}
}

// Tick claims all jobs due at now (up to the batch size) and processes
// each independently. Only a store failure returns an error; individual
// job failures are classified and recorded, never raised.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) error {
	jobs, err := d.store.ClaimDue(now, d.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "failed to claim due jobs")
	}

	if len(jobs) == 0 {
		return nil
	}

	d.log.Debugw("Claimed due jobs", "count", len(jobs))
	for _, job := range jobs {
		d.process(ctx, job)
	}
	return nil
}

// process executes one claimed job: token, publish, record outcome.
// A slow or hung remote call is bounded by the publish timeout; on
// expiry the attempt counts as a transient failure.
func (d *Dispatcher) process(ctx context.Context, job *Job) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout())
	defer cancel()

	token, err := d.tokens.Token(callCtx)
	if err != nil {
		d.recordFailure(job, errors.Wrap(err, "obtain token"))
		return
	}

	resultRef, err := d.publisher.Publish(callCtx, job.Payload, token)
	if err != nil {
		d.recordFailure(job, err)
		return
	}

	if _, err := d.store.RecordOutcome(job.ID, CompletedOutcome(resultRef)); err != nil {
		d.log.Errorw("Failed to record completion",
			"job_id", job.ID,
			"result_ref", resultRef,
			"error", err,
		)
		return
	}

	d.log.Infow("Job published",
		"job_id", job.ID,
		"result_ref", resultRef,
		"attempt", job.AttemptCount+1,
	)
}

// recordFailure classifies a failed attempt and records it. Permanent
// failures go straight to failed; everything else (network errors,
// rate limits, 5xx, auth hiccups, timeouts, the unclassified) retries
// until the attempt ceiling, then fails.
func (d *Dispatcher) recordFailure(job *Job, cause error) {
	attempt := job.AttemptCount + 1
	permanent := errors.IsPermanent(cause)
	exhausted := attempt >= d.cfg.MaxAttempts

	var outcome Outcome
	switch {
	case permanent:
		outcome = FailedOutcome(cause)
	case exhausted:
		outcome = FailedOutcome(cause)
	default:
		outcome = RetryOutcome(cause)
	}

	if _, err := d.store.RecordOutcome(job.ID, outcome); err != nil {
		d.log.Errorw("Failed to record outcome",
			"job_id", job.ID,
			"cause", cause,
			"error", err,
		)
		return
	}

	switch {
	case permanent:
		d.log.Warnw("Job failed permanently",
			"job_id", job.ID,
			"attempt", attempt,
			"error", cause,
		)
	case exhausted:
		d.log.Warnw("Job failed, retries exhausted",
			"job_id", job.ID,
			"attempts", attempt,
			"max_attempts", d.cfg.MaxAttempts,
			"error", cause,
		)
	default:
		d.log.Infow("Job attempt failed, will retry",
			"job_id", job.ID,
			"attempt", attempt,
			"max_attempts", d.cfg.MaxAttempts,
			"error", cause,
		)
	}
}

// LastTick returns when the loop last woke and how many times it has
func (d *Dispatcher) LastTick() (time.Time, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTickAt, d.tickCount
}
