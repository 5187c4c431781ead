package bulkupload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dandantas/lms-worker/internal/model"
	"github.com/dandantas/lms-worker/internal/worker"
	"github.com/dandantas/lms-worker/pkg/middleware"
)

const releaseTimeout = 5 * time.Second

// Coordinator drives one processing attempt of a bulk upload job
type Coordinator struct {
	store      JobStore
	rows       RowHandler
	objectType string

	leaser   Leaser
	owner    string
	leaseTTL time.Duration

	checkpointEvery    int
	finalWriteAttempts int
	finalWriteInterval time.Duration

	now func() time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLeaser makes attempts take an exclusive per-job lease held by owner
func WithLeaser(l Leaser, owner string, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.leaser = l
		c.owner = owner
		c.leaseTTL = ttl
	}
}

// WithCheckpointEvery persists progress after every n rows. 0 disables checkpoints.
func WithCheckpointEvery(n int) Option {
	return func(c *Coordinator) { c.checkpointEvery = n }
}

// WithFinalWriteRetry bounds the retries of the final result write
func WithFinalWriteRetry(attempts int, initialInterval time.Duration) Option {
	return func(c *Coordinator) {
		c.finalWriteAttempts = attempts
		c.finalWriteInterval = initialInterval
	}
}

// WithObjectType restricts the coordinator to jobs of one object type
func WithObjectType(objectType string) Option {
	return func(c *Coordinator) { c.objectType = objectType }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator that processes rows with rows
func NewCoordinator(store JobStore, rows RowHandler, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:              store,
		rows:               rows,
		objectType:         model.ObjectTypeLocation,
		finalWriteAttempts: 5,
		finalWriteInterval: 500 * time.Millisecond,
		now:                func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleTask adapts ProcessJob to the worker pool
func (c *Coordinator) HandleTask(ctx context.Context, task worker.Task) error {
	_, err := c.ProcessJob(ctx, task.JobID)
	return err
}

// ProcessJob runs one attempt of the job. A missing job is a no-op and a
// terminal job is returned untouched. Once rows start being processed the
// attempt runs to completion even if ctx is cancelled; it stops early, without
// writing, only when the job lease is lost.
func (c *Coordinator) ProcessJob(ctx context.Context, jobID string) (*model.BulkUpload, error) {
	logger := slog.With("job_id", jobID)
	if id := middleware.GetCorrelationID(ctx); id != "" {
		logger = logger.With("correlation_id", id)
	}

	job, err := c.load(ctx, jobID)
	if err != nil || job == nil || !c.runnable(logger, job) {
		return job, err
	}

	var lease *leaseState
	if c.leaser != nil {
		acquired, err := c.leaser.Acquire(ctx, jobID, c.owner, c.leaseTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to acquire lease for job %s: %w", ErrPersistence, jobID, err)
		}
		if !acquired {
			logger.Info("Job is being processed by another worker, skipping")
			return job, nil
		}
		defer c.release(logger, jobID)
		lease = &leaseState{extendedAt: c.now()}

		// the previous holder may have finished between load and acquire
		job, err = c.load(ctx, jobID)
		if err != nil || job == nil || !c.runnable(logger, job) {
			return job, err
		}
	}

	// the attempt must not be abandoned half way through the rows
	runCtx := context.WithoutCancel(ctx)

	work := job.Clone()
	now := c.now()
	work.Status = model.JobStatusProcessing
	work.Attempts++
	work.UpdatedAt = now
	if work.StartedAt.IsZero() {
		work.StartedAt = now
	}
	if err := c.store.Put(runCtx, work); err != nil {
		logger.Error("Failed to mark job as processing", "error", err, "error_code", "PERSISTENCE_ERROR")
		return nil, fmt.Errorf("%w: failed to mark job %s as processing: %w", ErrPersistence, jobID, err)
	}

	start := work.Processed()
	if start > len(work.Payload) {
		logger.Warn("Job has more recorded outcomes than rows", "recorded", start, "rows", len(work.Payload))
		start = len(work.Payload)
	}

	logger.Info("Processing bulk upload",
		"object_type", work.ObjectType,
		"rows", len(work.Payload),
		"resume_from", start,
		"attempt", work.Attempts,
	)

	begin := time.Now()
	for i := start; i < len(work.Payload); i++ {
		outcome := c.processRow(runCtx, logger, work.Payload[i])
		work.Record(i, outcome)

		if outcome.Status == model.OutcomeFailure {
			logger.Debug("Row failed", "row", i, "reason", outcome.Reason, "message", outcome.Message)
		}

		done := i + 1
		if done == len(work.Payload) {
			break
		}
		checkpointDue := c.checkpointEvery > 0 && (done-start)%c.checkpointEvery == 0
		if err := c.keepLease(runCtx, logger, work, lease, checkpointDue); err != nil {
			return work, err
		}
		if checkpointDue {
			c.checkpoint(runCtx, logger, work)
		}
	}

	if err := c.keepLease(runCtx, logger, work, lease, true); err != nil {
		return work, err
	}

	finished := c.now()
	work.Status = work.FinalStatus()
	work.CompletedAt = finished
	work.UpdatedAt = finished

	if err := c.persistFinal(ctx, runCtx, logger, work); err != nil {
		logger.Error("Failed to persist bulk upload result",
			"status", work.Status,
			"success_count", len(work.SuccessRows),
			"failure_count", len(work.FailureRows),
			"error", err,
			"error_code", "PERSISTENCE_ERROR",
		)
		return work, fmt.Errorf("%w: failed to persist result of job %s: %w", ErrPersistence, jobID, err)
	}

	logger.Info("Bulk upload completed",
		"status", work.Status,
		"success_count", len(work.SuccessRows),
		"failure_count", len(work.FailureRows),
		"duration_ms", time.Since(begin).Milliseconds(),
	)

	return work, nil
}

// load returns nil, nil when the job does not exist
func (c *Coordinator) load(ctx context.Context, jobID string) (*model.BulkUpload, error) {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			slog.Warn("Bulk upload job not found, ignoring trigger", "job_id", jobID, "error_code", "JOB_NOT_FOUND")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: failed to load job %s: %w", ErrPersistence, jobID, err)
	}
	return job, nil
}

// runnable applies the idempotency guard
func (c *Coordinator) runnable(logger *slog.Logger, job *model.BulkUpload) bool {
	if job.Status.IsTerminal() {
		logger.Info("Job already finished, skipping", "status", job.Status)
		return false
	}
	if !job.Status.IsValid() {
		logger.Error("Job has an unknown status, skipping", "status", job.Status)
		return false
	}
	if c.objectType != "" && job.ObjectType != "" && job.ObjectType != c.objectType {
		logger.Error("Job has an unsupported object type, skipping", "object_type", job.ObjectType)
		return false
	}
	return true
}

// processRow converts a panicking row handler into a failed row
func (c *Coordinator) processRow(ctx context.Context, logger *slog.Logger, row model.Row) (outcome model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered while processing row",
				"error", r,
				"stack_trace", string(debug.Stack()),
			)
			outcome = model.Failure(row, model.ReasonDownstreamError, fmt.Sprintf("panic: %v", r))
		}
	}()
	return c.rows.ProcessRow(ctx, row)
}

func (c *Coordinator) checkpoint(ctx context.Context, logger *slog.Logger, work *model.BulkUpload) {
	work.UpdatedAt = c.now()
	if err := c.store.Put(ctx, work); err != nil {
		logger.Warn("Failed to checkpoint job", "processed", work.Processed(), "error", err)
	}
}

// leaseState tracks the last successful extension of the held lease
type leaseState struct {
	extendedAt time.Time
}

// keepLease extends the lease when force is set or a third of the TTL has
// passed since the last extension. It fails with ErrLeaseLost once the lease
// is known to belong to someone else or has certainly expired; the attempt
// must then stop without writing.
func (c *Coordinator) keepLease(ctx context.Context, logger *slog.Logger, work *model.BulkUpload, lease *leaseState, force bool) error {
	if lease == nil {
		return nil
	}
	now := c.now()
	held := now.Sub(lease.extendedAt)
	if !force && held < c.leaseTTL/3 {
		return nil
	}

	err := c.leaser.Extend(ctx, work.ID, c.owner, c.leaseTTL)
	if err == nil {
		lease.extendedAt = now
		return nil
	}
	if errors.Is(err, model.ErrLeaseNotHeld) || held >= c.leaseTTL {
		logger.Error("Lost job lease, abandoning attempt",
			"processed", work.Processed(),
			"held_for_ms", held.Milliseconds(),
			"error", err,
			"error_code", "LEASE_LOST",
		)
		return fmt.Errorf("%w: job %s: %w", ErrLeaseLost, work.ID, err)
	}

	logger.Warn("Failed to extend job lease", "error", err)
	return nil
}

// persistFinal writes with runCtx and stops retrying once ctx is done
func (c *Coordinator) persistFinal(ctx, runCtx context.Context, logger *slog.Logger, work *model.BulkUpload) error {
	attempts := c.finalWriteAttempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.finalWriteInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		return c.store.Put(runCtx, work)
	}, b, func(err error, wait time.Duration) {
		logger.Warn("Final job write failed, retrying", "error", err, "retry_in_ms", wait.Milliseconds())
	})
}

func (c *Coordinator) release(logger *slog.Logger, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := c.leaser.Release(ctx, jobID, c.owner); err != nil {
		logger.Warn("Failed to release job lease", "error", err)
	}
}
