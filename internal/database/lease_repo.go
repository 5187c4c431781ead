package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dandantas/lms-worker/internal/model"
)

// ErrLeaseNotHeld is returned when extending a lease the caller does not own
var ErrLeaseNotHeld = model.ErrLeaseNotHeld

// LeaseRepository hands out exclusive, expiring per-job processing leases
type LeaseRepository struct {
	collection *mongo.Collection
}

// NewLeaseRepository creates a new lease repository
func NewLeaseRepository(db *MongoDB) *LeaseRepository {
	return &LeaseRepository{
		collection: db.GetCollection(db.Collections.JobLeases),
	}
}

// Acquire attempts to take the lease for a job.
// Returns false if a live lease is held by another worker.
func (r *LeaseRepository) Acquire(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	// Either no lease exists for this job, or the existing one has expired
	filter := bson.M{
		"job_id": jobID,
		"$or": []bson.M{
			{"expires_at": bson.M{"$lt": now}},
			{"expires_at": bson.M{"$exists": false}},
		},
	}

	update := bson.M{
		"$set": bson.M{
			"job_id":     jobID,
			"locked_by":  owner,
			"locked_at":  now,
			"expires_at": expiresAt,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result model.JobLease
	err := r.collection.FindOneAndUpdate(ctxTimeout, filter, update, opts).Decode(&result)
	if err != nil {
		// a live lease makes the upsert collide with the unique job_id index
		if errors.Is(err, mongo.ErrNoDocuments) || mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}

	if result.LockedBy != owner {
		return false, nil
	}

	slog.Debug("Acquired job lease",
		"job_id", jobID,
		"owner", owner,
		"expires_at", expiresAt,
	)

	return true, nil
}

// Extend pushes back the expiry of a lease owned by owner
func (r *LeaseRepository) Extend(ctx context.Context, jobID, owner string, ttl time.Duration) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	expiresAt := time.Now().UTC().Add(ttl)

	filter := bson.M{
		"job_id":    jobID,
		"locked_by": owner,
	}
	update := bson.M{
		"$set": bson.M{"expires_at": expiresAt},
	}

	result, err := r.collection.UpdateOne(ctxTimeout, filter, update)
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrLeaseNotHeld
	}

	slog.Debug("Extended job lease",
		"job_id", jobID,
		"owner", owner,
		"new_expires_at", expiresAt,
	)

	return nil
}

// Release drops the lease, but only if owner holds it
func (r *LeaseRepository) Release(ctx context.Context, jobID, owner string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"job_id":    jobID,
		"locked_by": owner,
	}

	result, err := r.collection.DeleteOne(ctxTimeout, filter)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	if result.DeletedCount > 0 {
		slog.Debug("Released job lease", "job_id", jobID, "owner", owner)
	}

	return nil
}

// ReleaseAll drops every lease held by owner. Called during graceful shutdown.
func (r *LeaseRepository) ReleaseAll(ctx context.Context, owner string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.collection.DeleteMany(ctxTimeout, bson.M{"locked_by": owner})
	if err != nil {
		return fmt.Errorf("failed to release all leases: %w", err)
	}

	if result.DeletedCount > 0 {
		slog.Info("Released all leases during shutdown",
			"owner", owner,
			"count", result.DeletedCount,
		)
	}

	return nil
}

// IsLeased reports whether a live lease exists for the job
func (r *LeaseRepository) IsLeased(ctx context.Context, jobID string) (bool, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := r.collection.CountDocuments(ctxTimeout, bson.M{
		"job_id":     jobID,
		"expires_at": bson.M{"$gte": time.Now().UTC()},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check lease: %w", err)
	}
	return count > 0, nil
}
