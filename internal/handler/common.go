package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dandantas/lms-worker/pkg/middleware"
)

// Error codes returned in the error envelope
const (
	CodeInvalidJobID     = "INVALID_JOB_ID"
	CodeJobNotFound      = "JOB_NOT_FOUND"
	CodeJobFinished      = "JOB_ALREADY_FINISHED"
	CodePersistence      = "PERSISTENCE_ERROR"
	CodePublishFailed    = "TRIGGER_PUBLISH_FAILED"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeRouteNotFound    = "ROUTE_NOT_FOUND"
)

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// APIError describes what went wrong. CorrelationID lets callers quote the
// request when asking about it.
type APIError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to write response body", "status_code", statusCode, "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: APIError{
		Code:          code,
		Message:       message,
		CorrelationID: middleware.GetCorrelationID(r.Context()),
	}})
}
