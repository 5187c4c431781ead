// Package bulkupload runs background bulk upload jobs: it loads a job,
// pushes every row to the owning resource service in order and writes the
// per-row outcome back to the job store.
package bulkupload

import (
	"context"
	"errors"
	"time"

	"github.com/dandantas/lms-worker/internal/model"
)

// ErrJobNotFound is returned by JobStore.Get for unknown ids
var ErrJobNotFound = model.ErrJobNotFound

// ErrPersistence marks failures to read or write job state
var ErrPersistence = errors.New("bulk upload persistence error")

// ErrLeaseLost means another owner took over the job mid-attempt
var ErrLeaseLost = errors.New("bulk upload job lease lost")

// JobStore owns persisted job state
type JobStore interface {
	// Get returns ErrJobNotFound when id is unknown.
	Get(ctx context.Context, id string) (*model.BulkUpload, error)
	// Put replaces the whole stored record.
	Put(ctx context.Context, job *model.BulkUpload) error
}

// Leaser grants a single owner exclusive processing rights to a job
type Leaser interface {
	// Acquire reports false when another owner holds a live lease.
	Acquire(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error)
	// Extend returns model.ErrLeaseNotHeld when owner no longer holds the lease.
	Extend(ctx context.Context, jobID, owner string, ttl time.Duration) error
	Release(ctx context.Context, jobID, owner string) error
}

// RowHandler turns a single row into an outcome. It never returns an error.
type RowHandler interface {
	ProcessRow(ctx context.Context, row model.Row) model.Outcome
}
