// Package scheduler periodically re-triggers bulk upload jobs that were
// submitted but never picked up, or whose worker died mid-batch.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dandantas/lms-worker/internal/config"
	"github.com/dandantas/lms-worker/internal/model"
)

// sweepLockID is the lease key that keeps a sweep to one replica at a time
const sweepLockID = "recovery-sweep"

// StaleFinder lists unfinished jobs with no progress since cutoff
type StaleFinder interface {
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// Locker is the subset of the job lease store the sweeper relies on
type Locker interface {
	Acquire(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jobID, owner string) error
	IsLeased(ctx context.Context, jobID string) (bool, error)
}

// Publisher sends trigger messages
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Sweeper re-publishes triggers for stranded jobs on a cron schedule
type Sweeper struct {
	cfg       *config.Config
	jobs      StaleFinder
	locker    Locker
	publisher Publisher
	cron      *cron.Cron
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper. locker may be nil, in which case every
// replica sweeps and no lease check is made before re-triggering.
func NewSweeper(cfg *config.Config, jobs StaleFinder, locker Locker, publisher Publisher) (*Sweeper, error) {
	s := &Sweeper{
		cfg:       cfg,
		jobs:      jobs,
		locker:    locker,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := s.cron.AddFunc(cfg.RecoverySchedule, s.runSweep); err != nil {
		return nil, fmt.Errorf("invalid recovery schedule %q: %w", cfg.RecoverySchedule, err)
	}

	return s, nil
}

// Start begins running sweeps on schedule
func (s *Sweeper) Start() {
	if !s.cfg.RecoveryEnabled {
		slog.Info("Recovery sweeper is disabled by configuration")
		return
	}

	slog.Info("Starting recovery sweeper",
		"pod_id", s.cfg.PodID,
		"schedule", s.cfg.RecoverySchedule,
		"stale_after", s.cfg.RecoveryStaleAfter,
		"batch_limit", s.cfg.RecoveryBatchLimit,
	)

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	s.cron.Start()
}

// Stop waits for a running sweep to finish, or for ctx to expire
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()
	if !running {
		return
	}

	slog.Info("Stopping recovery sweeper", "pod_id", s.cfg.PodID)

	select {
	case <-s.cron.Stop().Done():
		slog.Info("Recovery sweeper stopped")
	case <-ctx.Done():
		slog.Warn("Timeout waiting for recovery sweep to complete")
	}
}

func (s *Sweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.Sweep(ctx); err != nil {
		slog.Error("Recovery sweep failed", "error", err)
	}
}

// Sweep re-triggers stale jobs once and returns the ids it re-triggered
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	if s.locker != nil {
		acquired, err := s.locker.Acquire(ctx, sweepLockID, s.cfg.PodID, s.cfg.RecoveryStaleAfter)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		if !acquired {
			slog.Debug("Recovery sweep running on another pod")
			return nil, nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), sweepLockID, s.cfg.PodID); err != nil {
				slog.Warn("Failed to release sweep lock", "error", err)
			}
		}()
	}

	cutoff := s.now().Add(-s.cfg.RecoveryStaleAfter)
	ids, err := s.jobs.FindStale(ctx, cutoff, s.cfg.RecoveryBatchLimit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		slog.Debug("No stale bulk uploads", "cutoff", cutoff)
		return nil, nil
	}

	retriggered := make([]string, 0, len(ids))
	for _, id := range ids {
		if s.locker != nil {
			leased, err := s.locker.IsLeased(ctx, id)
			if err != nil {
				slog.Error("Failed to check job lease", "job_id", id, "error", err)
				continue
			}
			if leased {
				continue
			}
		}

		msg := model.TriggerMessage{JobID: id, CorrelationID: uuid.New().String()}
		if err := s.publisher.PublishJSON(s.cfg.BulkUploadSubject, msg); err != nil {
			slog.Error("Failed to re-trigger bulk upload", "job_id", id, "error", err)
			continue
		}
		slog.Info("Re-triggered stale bulk upload", "job_id", id, "correlation_id", msg.CorrelationID)
		retriggered = append(retriggered, id)
	}

	return retriggered, nil
}
