// Package healthprobe serves the liveness and readiness endpoints the
// engine exposes next to its metrics. Liveness is unconditional; readiness
// flips on once the launcher has started its runtimes and off again during
// shutdown so the load balancer drains before the loops stop.
package healthprobe

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	statusHealthy  = "healthy"
	statusReady    = "ready"
	statusNotReady = "not_ready"
)

// HealthChecker tracks process readiness and uptime.
type HealthChecker struct {
	startTime time.Time
	ready     atomic.Bool
}

// New creates a checker with the clock started now.
func New() *HealthChecker {
	return &HealthChecker{startTime: time.Now()}
}

// SetReady flips the readiness state.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Uptime is how long the process has been up.
func (h *HealthChecker) Uptime() time.Duration {
	return time.Since(h.startTime)
}

// HealthResponse is the JSON body of both endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Message string `json:"message,omitempty"`
}

// Health returns the liveness handler; it answers 200 whenever the process
// can serve HTTP at all.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status: statusHealthy,
			Uptime: h.Uptime().String(),
		})
	}
}

// Ready returns the readiness handler: 200 once the runtimes are up, 503
// while starting or draining.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:  statusNotReady,
				Message: "strategy runtimes not running",
			})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{
			Status: statusReady,
			Uptime: h.Uptime().String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
