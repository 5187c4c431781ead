package cassandra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/dandantas/lms-worker/internal/model"
)

const jobColumns = `id, object_type, status, payload, success_rows, failure_rows, failures,
	attempts, created_by, created_at, updated_at, started_at, completed_at`

// JobStore stores bulk upload jobs, one row per job. Row lists are kept as
// JSON text columns.
type JobStore struct {
	session *gocql.Session
	timeout time.Duration
}

// NewJobStore creates a new job store
func NewJobStore(session *gocql.Session, timeout time.Duration) *JobStore {
	return &JobStore{session: session, timeout: timeout}
}

// Get retrieves a job by id
func (s *JobStore) Get(ctx context.Context, id string) (*model.BulkUpload, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		rec    jobRecord
		status string
	)
	err := s.session.Query(`SELECT `+jobColumns+` FROM `+TableBulkUploads+` WHERE id = ?`, id).
		WithContext(ctxTimeout).
		Scan(&rec.ID, &rec.ObjectType, &status, &rec.Payload, &rec.SuccessRows, &rec.FailureRows, &rec.Failures,
			&rec.Attempts, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt, &rec.StartedAt, &rec.CompletedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, model.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get bulk upload: %w", err)
	}
	rec.Status = model.JobStatus(status)

	job, err := rec.toModel()
	if err != nil {
		return nil, fmt.Errorf("failed to decode bulk upload %s: %w", id, err)
	}
	return job, nil
}

// Put writes the whole job row
func (s *JobStore) Put(ctx context.Context, job *model.BulkUpload) error {
	rec, err := fromModel(job)
	if err != nil {
		return fmt.Errorf("failed to encode bulk upload %s: %w", job.ID, err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.session.Query(`INSERT INTO `+TableBulkUploads+` (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ObjectType, string(rec.Status), rec.Payload, rec.SuccessRows, rec.FailureRows, rec.Failures,
		rec.Attempts, rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt, rec.StartedAt, rec.CompletedAt).
		WithContext(ctxTimeout).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to put bulk upload: %w", err)
	}
	return nil
}

// FindStale returns ids of unfinished jobs with no progress since cutoff.
// status is not part of the primary key, so this filters server side.
func (s *JobStore) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids := []string{}
	for _, status := range []model.JobStatus{model.JobStatusCreated, model.JobStatusProcessing} {
		iter := s.session.Query(`SELECT id, created_at, updated_at FROM `+TableBulkUploads+` WHERE status = ? ALLOW FILTERING`, string(status)).
			WithContext(ctxTimeout).
			PageSize(500).
			Iter()

		var (
			id                   string
			createdAt, updatedAt time.Time
		)
		for iter.Scan(&id, &createdAt, &updatedAt) {
			if len(ids) >= limit {
				break
			}
			if isStale(createdAt, updatedAt, cutoff) {
				ids = append(ids, id)
			}
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("failed to find stale bulk uploads: %w", err)
		}
	}
	return ids, nil
}

// isStale uses the last update, or the creation time for jobs never written since
func isStale(createdAt, updatedAt, cutoff time.Time) bool {
	last := updatedAt
	if last.IsZero() {
		last = createdAt
	}
	return last.Before(cutoff)
}

// jobRecord is the column layout of a job row
type jobRecord struct {
	ID          string
	ObjectType  string
	Status      model.JobStatus
	Payload     string
	SuccessRows string
	FailureRows string
	Failures    string
	Attempts    int
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

func fromModel(job *model.BulkUpload) (jobRecord, error) {
	rec := jobRecord{
		ID:          job.ID,
		ObjectType:  job.ObjectType,
		Status:      job.Status,
		Attempts:    job.Attempts,
		CreatedBy:   job.CreatedBy,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}

	var err error
	if rec.Payload, err = encodeColumn(job.Payload); err != nil {
		return rec, err
	}
	if rec.SuccessRows, err = encodeColumn(job.SuccessRows); err != nil {
		return rec, err
	}
	if rec.FailureRows, err = encodeColumn(job.FailureRows); err != nil {
		return rec, err
	}
	if rec.Failures, err = encodeColumn(job.Failures); err != nil {
		return rec, err
	}
	return rec, nil
}

func (rec jobRecord) toModel() (*model.BulkUpload, error) {
	job := &model.BulkUpload{
		ID:          rec.ID,
		ObjectType:  rec.ObjectType,
		Status:      rec.Status,
		Attempts:    rec.Attempts,
		CreatedBy:   rec.CreatedBy,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}

	if err := decodeColumn(rec.Payload, &job.Payload); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	if err := decodeColumn(rec.SuccessRows, &job.SuccessRows); err != nil {
		return nil, fmt.Errorf("success_rows: %w", err)
	}
	if err := decodeColumn(rec.FailureRows, &job.FailureRows); err != nil {
		return nil, fmt.Errorf("failure_rows: %w", err)
	}
	if err := decodeColumn(rec.Failures, &job.Failures); err != nil {
		return nil, fmt.Errorf("failures: %w", err)
	}
	return job, nil
}

func encodeColumn[T any](v []T) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeColumn[T any](s string, dst *[]T) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}
