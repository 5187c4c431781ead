package cassandra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"

	"github.com/dandantas/lms-worker/internal/model"
)

// ErrLeaseNotHeld is returned when extending a lease the caller does not own
var ErrLeaseNotHeld = model.ErrLeaseNotHeld

// LeaseStore hands out per-job leases with lightweight transactions.
// Expiry is the row TTL.
type LeaseStore struct {
	session *gocql.Session
	timeout time.Duration
}

// NewLeaseStore creates a new lease store
func NewLeaseStore(session *gocql.Session, timeout time.Duration) *LeaseStore {
	return &LeaseStore{session: session, timeout: timeout}
}

// Acquire inserts the lease row unless a live one exists
func (s *LeaseStore) Acquire(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing := map[string]interface{}{}
	applied, err := s.session.Query(`INSERT INTO `+TableJobLeases+` (job_id, locked_by, locked_at) VALUES (?, ?, ?) IF NOT EXISTS USING TTL ?`,
		jobID, owner, time.Now().UTC(), ttlSeconds(ttl)).
		WithContext(ctxTimeout).
		MapScanCAS(existing)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !applied {
		return false, nil
	}

	slog.Debug("Acquired job lease", "job_id", jobID, "owner", owner, "ttl", ttl)
	return true, nil
}

// Extend rewrites the lease with a fresh TTL if owner still holds it
func (s *LeaseStore) Extend(ctx context.Context, jobID, owner string, ttl time.Duration) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing := map[string]interface{}{}
	applied, err := s.session.Query(`UPDATE `+TableJobLeases+` USING TTL ? SET locked_by = ?, locked_at = ? WHERE job_id = ? IF locked_by = ?`,
		ttlSeconds(ttl), owner, time.Now().UTC(), jobID, owner).
		WithContext(ctxTimeout).
		MapScanCAS(existing)
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	if !applied {
		return ErrLeaseNotHeld
	}
	return nil
}

// Release deletes the lease if owner holds it
func (s *LeaseStore) Release(ctx context.Context, jobID, owner string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing := map[string]interface{}{}
	applied, err := s.session.Query(`DELETE FROM `+TableJobLeases+` WHERE job_id = ? IF locked_by = ?`, jobID, owner).
		WithContext(ctxTimeout).
		MapScanCAS(existing)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	if applied {
		slog.Debug("Released job lease", "job_id", jobID, "owner", owner)
	}
	return nil
}

// IsLeased reports whether a live lease exists for the job
func (s *LeaseStore) IsLeased(ctx context.Context, jobID string) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var owner string
	err := s.session.Query(`SELECT locked_by FROM `+TableJobLeases+` WHERE job_id = ?`, jobID).
		WithContext(ctxTimeout).
		Scan(&owner)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check lease: %w", err)
	}
	return true, nil
}

// ttlSeconds rounds up so a sub-second ttl still produces a live row
func ttlSeconds(ttl time.Duration) int {
	secs := int((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
