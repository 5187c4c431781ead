package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RuntimeStats exposes worker internals for the health endpoint
type RuntimeStats interface {
	QueueLength() int
}

// HealthHandler handles service health and readiness checks
type HealthHandler struct {
	deps      map[string]Pinger
	stats     RuntimeStats
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler checking deps by name
func NewHealthHandler(deps map[string]Pinger, stats RuntimeStats, version string) *HealthHandler {
	return &HealthHandler{
		deps:      deps,
		stats:     stats,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Timestamp     string            `json:"timestamp"`
	Dependencies  map[string]string `json:"dependencies"`
	QueueLength   int               `json:"queue_length"`
	UptimeSeconds int64             `json:"uptime_seconds"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Ready        bool              `json:"ready"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health returns the service health status. It is always 200 while the process is up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	deps, _ := h.check(r.Context())

	response := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Dependencies:  deps,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	if h.stats != nil {
		response.QueueLength = h.stats.QueueLength()
	}

	writeJSON(w, http.StatusOK, response)
}

// Ready returns 503 until every dependency answers
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	deps, ready := h.check(r.Context())

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Ready:        ready,
		Dependencies: deps,
	})
}

func (h *HealthHandler) check(ctx context.Context) (map[string]string, bool) {
	status := make(map[string]string, len(h.deps))
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			status[name] = "disconnected"
			ready = false
			continue
		}
		status[name] = "connected"
	}
	return status, ready
}
