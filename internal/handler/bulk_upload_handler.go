package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dandantas/lms-worker/internal/model"
	"github.com/dandantas/lms-worker/pkg/middleware"
)

// JobReader loads bulk upload jobs
type JobReader interface {
	Get(ctx context.Context, id string) (*model.BulkUpload, error)
}

// TriggerPublisher publishes trigger messages
type TriggerPublisher interface {
	PublishJSON(subject string, v any) error
}

// BulkUploadHandler serves bulk upload status and manual re-triggers
type BulkUploadHandler struct {
	jobs      JobReader
	publisher TriggerPublisher
	subject   string
}

// NewBulkUploadHandler creates a new bulk upload handler
func NewBulkUploadHandler(jobs JobReader, publisher TriggerPublisher, subject string) *BulkUploadHandler {
	return &BulkUploadHandler{
		jobs:      jobs,
		publisher: publisher,
		subject:   subject,
	}
}

// TriggerResponse is returned when a job has been queued
type TriggerResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
}

// Get handles GET /api/v1/bulk-uploads/{id}
func (h *BulkUploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, _ := splitJobPath(r.URL.Path)
	if id == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidJobID, "Job id is required")
		return
	}

	job, ok := h.load(w, r, id)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, job.ToStatus())
}

// Trigger handles POST /api/v1/bulk-uploads/{id}/trigger. Finished jobs
// are rejected; the worker would skip them anyway.
func (h *BulkUploadHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id, _ := splitJobPath(r.URL.Path)
	if id == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidJobID, "Job id is required")
		return
	}

	job, ok := h.load(w, r, id)
	if !ok {
		return
	}
	if job.Status.IsTerminal() {
		writeError(w, r, http.StatusConflict, CodeJobFinished, "Job already finished with status "+job.Status.String())
		return
	}

	correlationID := middleware.GetCorrelationID(r.Context())
	msg := model.TriggerMessage{JobID: id, CorrelationID: correlationID}
	if err := h.publisher.PublishJSON(h.subject, msg); err != nil {
		slog.Error("Failed to publish bulk upload trigger", "job_id", id, "correlation_id", correlationID, "error", err)
		writeError(w, r, http.StatusServiceUnavailable, CodePublishFailed, "Failed to queue job")
		return
	}

	slog.Info("Bulk upload triggered manually", "job_id", id, "correlation_id", correlationID)

	writeJSON(w, http.StatusAccepted, TriggerResponse{
		JobID:         id,
		Status:        "queued",
		CorrelationID: correlationID,
	})
}

func (h *BulkUploadHandler) load(w http.ResponseWriter, r *http.Request, id string) (*model.BulkUpload, bool) {
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			writeError(w, r, http.StatusNotFound, CodeJobNotFound, "Bulk upload not found")
			return nil, false
		}
		slog.Error("Failed to load bulk upload", "job_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, CodePersistence, "Failed to load bulk upload")
		return nil, false
	}
	return job, true
}

// splitJobPath splits /api/v1/bulk-uploads/{id}[/{action}]
func splitJobPath(path string) (id, action string) {
	rest := strings.Trim(strings.TrimPrefix(path, bulkUploadsPrefix), "/")
	id, action, _ = strings.Cut(rest, "/")
	return id, action
}
