package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status   string            `json:"status"`
	WorkerID string            `json:"worker_id"`
	Checks   map[string]string `json:"checks"`
	Version  string            `json:"version,omitempty"`
}

// HealthChecker reports liveness for one worker.
type HealthChecker struct {
	worker  *Worker
	version string
}

// NewHealthChecker creates a HealthChecker for the given worker.
func NewHealthChecker(w *Worker, version string) *HealthChecker {
	return &HealthChecker{worker: w, version: version}
}

// Check performs the health checks.
func (h *HealthChecker) Check() HealthResponse {
	checks := map[string]string{
		"active_connections": fmt.Sprintf("%d", h.worker.ActiveConnections()),
		"goroutines":         fmt.Sprintf("%d", runtime.NumGoroutine()),
	}

	status := "healthy"
	if h.worker.draining.Load() {
		status = "draining"
	}

	return HealthResponse{
		Status:   status,
		WorkerID: h.worker.ID(),
		Checks:   checks,
		Version:  h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "healthy" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
