package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker serves the /health endpoint. Components report their state
// through the setters; the handler only reads.
type HealthChecker struct {
	mu            sync.RWMutex
	mode          string
	killEngaged   bool
	storeHealthy  bool
	lastExecution time.Time
	lastSweep     time.Time
	errors        []string
}

type HealthStatus struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Mode          string    `json:"mode"`
	KillEngaged   bool      `json:"kill_engaged"`
	StoreHealthy  bool      `json:"store_healthy"`
	LastExecution time.Time `json:"last_execution"`
	LastSweep     time.Time `json:"last_sweep"`
	Uptime        string    `json:"uptime"`
	Errors        []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		storeHealthy: true,
		errors:       make([]string, 0),
	}
}

// SetMode records the current operating mode for the health report.
func (h *HealthChecker) SetMode(mode string, killEngaged bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mode = mode
	h.killEngaged = killEngaged
}

// SetStoreHealthy records store reachability.
func (h *HealthChecker) SetStoreHealthy(healthy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.storeHealthy = healthy
}

// MarkExecution records that an execution attempt completed.
func (h *HealthChecker) MarkExecution() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastExecution = time.Now()
}

// MarkSweep records that a reconciliation sweep completed.
func (h *HealthChecker) MarkSweep() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSweep = time.Now()
}

// RecordError appends an error to the health report.
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > 20 {
		h.errors = h.errors[len(h.errors)-20:]
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.storeHealthy {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
		w.WriteHeader(http.StatusInternalServerError)
	}

	health := HealthStatus{
		Status:        status,
		Timestamp:     time.Now(),
		Mode:          h.mode,
		KillEngaged:   h.killEngaged,
		StoreHealthy:  h.storeHealthy,
		LastExecution: h.lastExecution,
		LastSweep:     h.lastSweep,
		Uptime:        time.Since(startTime).String(),
		Errors:        h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
