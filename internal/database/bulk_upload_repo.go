package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dandantas/lms-worker/internal/model"
)

// BulkUploadRepository stores bulk upload jobs, one document per job
type BulkUploadRepository struct {
	collection *mongo.Collection
}

// NewBulkUploadRepository creates a new bulk upload repository
func NewBulkUploadRepository(db *MongoDB) *BulkUploadRepository {
	return &BulkUploadRepository{
		collection: db.GetCollection(db.Collections.BulkUploads),
	}
}

// Get retrieves a job by id
func (r *BulkUploadRepository) Get(ctx context.Context, id string) (*model.BulkUpload, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var job model.BulkUpload
	err := r.collection.FindOne(ctxTimeout, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get bulk upload: %w", err)
	}

	return &job, nil
}

// Put replaces the stored job, creating it if needed
func (r *BulkUploadRepository) Put(ctx context.Context, job *model.BulkUpload) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctxTimeout, bson.M{"_id": job.ID}, job, opts); err != nil {
		return fmt.Errorf("failed to put bulk upload: %w", err)
	}

	return nil
}

// FindStale returns ids of jobs that were created but never started, or
// that stopped making progress, before cutoff
func (r *BulkUploadRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{
		"status": bson.M{"$in": []model.JobStatus{model.JobStatusCreated, model.JobStatusProcessing}},
		"$or": []bson.M{
			{"updated_at": bson.M{"$lt": cutoff}},
			{"updated_at": bson.M{"$exists": false}, "created_at": bson.M{"$lt": cutoff}},
		},
	}
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale bulk uploads: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctxTimeout, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode stale bulk uploads: %w", err)
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
