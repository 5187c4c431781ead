package bulkupload

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/dandantas/lms-worker/internal/model"
	"github.com/dandantas/lms-worker/internal/worker"
)

// Submitter queues work for asynchronous execution
type Submitter interface {
	Submit(ctx context.Context, task worker.Task) error
}

// TriggerHandler hands bulk upload triggers off to the worker pool
type TriggerHandler struct {
	pool      Submitter
	operation string
}

// NewTriggerHandler creates a trigger handler submitting tasks for operation
func NewTriggerHandler(pool Submitter, operation string) *TriggerHandler {
	return &TriggerHandler{
		pool:      pool,
		operation: operation,
	}
}

// Handle decodes a {"jobId": "..."} trigger and queues it. Malformed
// triggers are logged and dropped.
func (h *TriggerHandler) Handle(ctx context.Context, data []byte) error {
	var msg model.TriggerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Error("Malformed bulk upload trigger", "error", err, "payload_size", len(data))
		return nil
	}

	jobID := strings.TrimSpace(msg.JobID)
	if jobID == "" {
		slog.Error("Bulk upload trigger has no job id")
		return nil
	}

	task := worker.Task{
		Operation:     h.operation,
		JobID:         jobID,
		CorrelationID: msg.CorrelationID,
	}
	if err := h.pool.Submit(ctx, task); err != nil {
		slog.Error("Failed to queue bulk upload job", "job_id", jobID, "error", err)
		return err
	}
	return nil
}
