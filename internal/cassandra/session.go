// Package cassandra keeps bulk upload jobs and their leases in Cassandra
// (or ScyllaDB), the store the platform's user and location data lives in.
package cassandra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

// Table names
const (
	TableBulkUploads = "bulk_upload_process"
	TableJobLeases   = "job_lease"
)

// Config holds the cluster connection settings
type Config struct {
	Hosts      []string
	Keyspace   string
	Timeout    time.Duration
	NumRetries int
}

// Connect opens a session with quorum reads and writes
func Connect(cfg Config) (*gocql.Session, error) {
	slog.Info("Connecting to Cassandra", "hosts", cfg.Hosts, "keyspace", cfg.Keyspace)

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = cfg.Timeout
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: cfg.NumRetries,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Cassandra: %w", err)
	}

	slog.Info("Successfully connected to Cassandra")
	return session, nil
}

// EnsureSchema creates the tables used by the worker if they are missing
func EnsureSchema(ctx context.Context, session *gocql.Session) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + TableBulkUploads + ` (
			id text PRIMARY KEY,
			object_type text,
			status text,
			payload text,
			success_rows text,
			failure_rows text,
			failures text,
			attempts int,
			created_by text,
			created_at timestamp,
			updated_at timestamp,
			started_at timestamp,
			completed_at timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS ` + TableJobLeases + ` (
			job_id text PRIMARY KEY,
			locked_by text,
			locked_at timestamp
		)`,
	}

	for _, stmt := range statements {
		if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
