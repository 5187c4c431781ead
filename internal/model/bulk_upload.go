package model

import (
	"time"
)

// JobStatus is the lifecycle state of a bulk upload job
type JobStatus string

const (
	JobStatusCreated             JobStatus = "CREATED"
	JobStatusProcessing          JobStatus = "PROCESSING"
	JobStatusCompleted           JobStatus = "COMPLETED"
	JobStatusCompletedWithErrors JobStatus = "COMPLETED_WITH_ERRORS"
	JobStatusInterrupted         JobStatus = "INTERRUPTED"
)

// IsValid reports whether s is one of the known statuses
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusCreated, JobStatusProcessing, JobStatusCompleted,
		JobStatusCompletedWithErrors, JobStatusInterrupted:
		return true
	}
	return false
}

// IsTerminal reports whether no further processing is expected for s
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusInterrupted:
		return true
	}
	return false
}

func (s JobStatus) String() string { return string(s) }

// Object types a bulk upload can carry
const (
	ObjectTypeLocation = "location"
)

// RowFailure records why a row ended up in FailureRows
type RowFailure struct {
	Index   int           `json:"index" bson:"index"` // position in Payload
	Reason  FailureReason `json:"reason" bson:"reason"`
	Message string        `json:"message,omitempty" bson:"message,omitempty"`
}

// BulkUpload is one submitted batch of rows awaiting background processing
type BulkUpload struct {
	ID          string       `json:"id" bson:"_id"`
	ObjectType  string       `json:"objectType" bson:"object_type"`
	Status      JobStatus    `json:"status" bson:"status"`
	Payload     []Row        `json:"payload" bson:"payload"`
	SuccessRows []Row        `json:"successRows" bson:"success_rows"`
	FailureRows []Row        `json:"failureRows" bson:"failure_rows"`
	Failures    []RowFailure `json:"failures" bson:"failures"`
	Attempts    int          `json:"attempts" bson:"attempts"`
	CreatedBy   string       `json:"createdBy,omitempty" bson:"created_by,omitempty"`
	CreatedAt   time.Time    `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time    `json:"updatedAt" bson:"updated_at"`
	StartedAt   time.Time    `json:"startedAt,omitempty" bson:"started_at,omitempty"`
	CompletedAt time.Time    `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
}

// Processed is the number of payload rows already accounted for.
// Rows are processed in order, so these are always the first Processed rows.
func (b *BulkUpload) Processed() int {
	return len(b.SuccessRows) + len(b.FailureRows)
}

// Record appends the outcome of the row at index to the matching list
func (b *BulkUpload) Record(index int, outcome Outcome) {
	if outcome.Status == OutcomeSuccess {
		b.SuccessRows = append(b.SuccessRows, outcome.Row)
		return
	}
	b.FailureRows = append(b.FailureRows, outcome.Row)
	b.Failures = append(b.Failures, RowFailure{
		Index:   index,
		Reason:  outcome.Reason,
		Message: outcome.Message,
	})
}

// FinalStatus is the terminal status implied by the recorded outcomes
func (b *BulkUpload) FinalStatus() JobStatus {
	if len(b.FailureRows) == 0 {
		return JobStatusCompleted
	}
	return JobStatusCompletedWithErrors
}

// Clone returns a copy whose slices can be appended to without touching b
func (b *BulkUpload) Clone() *BulkUpload {
	c := *b
	c.Payload = append([]Row(nil), b.Payload...)
	c.SuccessRows = append([]Row(nil), b.SuccessRows...)
	c.FailureRows = append([]Row(nil), b.FailureRows...)
	c.Failures = append([]RowFailure(nil), b.Failures...)
	return &c
}

// BulkUploadStatus is the status view returned to submitters
type BulkUploadStatus struct {
	ID           string       `json:"id"`
	ObjectType   string       `json:"objectType"`
	Status       JobStatus    `json:"status"`
	TotalRows    int          `json:"totalRows"`
	SuccessCount int          `json:"successCount"`
	FailureCount int          `json:"failureCount"`
	SuccessRows  []Row        `json:"successRows"`
	FailureRows  []Row        `json:"failureRows"`
	Failures     []RowFailure `json:"failures"`
	Attempts     int          `json:"attempts"`
	CreatedAt    string       `json:"createdAt,omitempty"`
	StartedAt    string       `json:"startedAt,omitempty"`
	CompletedAt  string       `json:"completedAt,omitempty"`
}

// ToStatus converts BulkUpload to BulkUploadStatus
func (b *BulkUpload) ToStatus() BulkUploadStatus {
	return BulkUploadStatus{
		ID:           b.ID,
		ObjectType:   b.ObjectType,
		Status:       b.Status,
		TotalRows:    len(b.Payload),
		SuccessCount: len(b.SuccessRows),
		FailureCount: len(b.FailureRows),
		SuccessRows:  nonNilRows(b.SuccessRows),
		FailureRows:  nonNilRows(b.FailureRows),
		Failures:     nonNilFailures(b.Failures),
		Attempts:     b.Attempts,
		CreatedAt:    formatTime(b.CreatedAt),
		StartedAt:    formatTime(b.StartedAt),
		CompletedAt:  formatTime(b.CompletedAt),
	}
}

func nonNilRows(rows []Row) []Row {
	if rows == nil {
		return []Row{}
	}
	return rows
}

func nonNilFailures(f []RowFailure) []RowFailure {
	if f == nil {
		return []RowFailure{}
	}
	return f
}

// formatTime renders t as RFC 3339, or "" for the zero time
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
