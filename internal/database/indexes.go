package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateIndexes creates all necessary indexes for the collections
func CreateIndexes(ctx context.Context, db *MongoDB) error {
	slog.Info("Creating MongoDB indexes")

	collections := map[string][]mongo.IndexModel{
		db.Collections.BulkUploads: {
			{
				Keys: bson.D{
					{Key: "status", Value: 1},
					{Key: "updated_at", Value: 1},
				},
				Options: options.Index().SetName("idx_status_updated_at"),
			},
			{
				Keys:    bson.D{{Key: "created_by", Value: 1}},
				Options: options.Index().SetName("idx_created_by"),
			},
		},
		db.Collections.JobLeases: {
			{
				Keys:    bson.D{{Key: "job_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("idx_job_id_unique"),
			},
			{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_expires_at_ttl"),
			},
			{
				Keys:    bson.D{{Key: "locked_by", Value: 1}},
				Options: options.Index().SetName("idx_locked_by"),
			},
		},
		db.Collections.Users: {
			{
				Keys:    bson.D{{Key: "root_org_id", Value: 1}},
				Options: options.Index().SetName("idx_root_org_id"),
			},
		},
	}

	for name, indexes := range collections {
		if err := createIndexes(ctx, db.GetCollection(name), indexes); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", name, err)
		}
		slog.Info("Created indexes", "collection", name)
	}

	slog.Info("Successfully created all MongoDB indexes")
	return nil
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctxTimeout, indexes)
	return err
}
