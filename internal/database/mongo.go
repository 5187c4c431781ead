// Package database holds the MongoDB job store, lease store and user reads.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Default collection names, shared with the platform services that submit jobs
const (
	CollectionBulkUploads = "bulk_upload_process"
	CollectionJobLeases   = "job_leases"
	CollectionUsers       = "users"
)

// Collections names the collections the worker reads and writes
type Collections struct {
	BulkUploads string
	JobLeases   string
	Users       string
}

// Options configures the worker's MongoDB client
type Options struct {
	URI      string
	Database string
	// Timeout bounds connecting and the initial ping
	Timeout time.Duration
	// MaxPoolSize should cover one connection per pool worker plus the HTTP
	// API and the sweeper. 0 derives it from Workers.
	MaxPoolSize uint64
	Workers     int
	AppName     string
	Collections Collections
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxPoolSize == 0 {
		o.MaxPoolSize = uint64(max(o.Workers, 1)) + 8
	}
	if o.AppName == "" {
		o.AppName = "lms-worker"
	}
	if o.Collections.BulkUploads == "" {
		o.Collections.BulkUploads = CollectionBulkUploads
	}
	if o.Collections.JobLeases == "" {
		o.Collections.JobLeases = CollectionJobLeases
	}
	if o.Collections.Users == "" {
		o.Collections.Users = CollectionUsers
	}
	return o
}

// clientOptions builds driver settings. Job state must survive a primary
// failover and a job must always read back its own last write, hence
// majority writes and primary reads.
func (o Options) clientOptions() *options.ClientOptions {
	return options.Client().
		ApplyURI(o.URI).
		SetAppName(o.AppName).
		SetMaxPoolSize(o.MaxPoolSize).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(time.Minute).
		SetConnectTimeout(o.Timeout).
		SetServerSelectionTimeout(o.Timeout).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary()).
		SetRetryWrites(true).
		SetRetryReads(true).
		SetCompressors([]string{"snappy"})
}

// MongoDB is a connected client bound to the worker's database
type MongoDB struct {
	Client      *mongo.Client
	Database    *mongo.Database
	Collections Collections
}

// Connect dials MongoDB and verifies the primary answers
func Connect(ctx context.Context, opts Options) (*MongoDB, error) {
	opts = opts.withDefaults()
	slog.Info("Connecting to MongoDB",
		"database", opts.Database,
		"max_pool_size", opts.MaxPoolSize,
		"jobs_collection", opts.Collections.BulkUploads,
	)

	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoDB{
		Client:      client,
		Database:    client.Database(opts.Database),
		Collections: opts.Collections,
	}, nil
}

// Disconnect closes the MongoDB connection
func (m *MongoDB) Disconnect(ctx context.Context) error {
	disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := m.Client.Disconnect(disconnectCtx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}

	slog.Info("Disconnected from MongoDB")
	return nil
}

// Ping checks that the primary is reachable
func (m *MongoDB) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := m.Client.Ping(pingCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return nil
}

// GetCollection returns a collection by name
func (m *MongoDB) GetCollection(name string) *mongo.Collection {
	return m.Database.Collection(name)
}
