package handler

import (
	"net/http"

	"github.com/dandantas/lms-worker/pkg/middleware"
)

const bulkUploadsPrefix = "/api/v1/bulk-uploads/"

// Router handles HTTP routing
type Router struct {
	bulkUploadHandler *BulkUploadHandler
	healthHandler     *HealthHandler
}

// NewRouter creates a new router
func NewRouter(bulkUploadHandler *BulkUploadHandler, healthHandler *HealthHandler) *Router {
	return &Router{
		bulkUploadHandler: bulkUploadHandler,
		healthHandler:     healthHandler,
	}
}

// Handler returns the configured HTTP handler with middleware
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", rt.healthHandler.Health)
	mux.HandleFunc("/ready", rt.healthHandler.Ready)

	mux.HandleFunc(bulkUploadsPrefix, rt.handleBulkUploads)

	handler := middleware.Recovery(mux)
	handler = middleware.Logging(handler)
	handler = middleware.CorrelationID(handler)

	return handler
}

// handleBulkUploads routes /api/v1/bulk-uploads/{id}[/trigger]
func (rt *Router) handleBulkUploads(w http.ResponseWriter, r *http.Request) {
	_, action := splitJobPath(r.URL.Path)

	switch {
	case action == "" && r.Method == http.MethodGet:
		rt.bulkUploadHandler.Get(w, r)
	case action == "trigger" && r.Method == http.MethodPost:
		rt.bulkUploadHandler.Trigger(w, r)
	case action == "" || action == "trigger":
		writeError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed")
	default:
		writeError(w, r, http.StatusNotFound, CodeRouteNotFound, "Endpoint not found")
	}
}
