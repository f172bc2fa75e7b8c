package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// StatusProvider exposes the guardian state the health check reports on
type StatusProvider interface {
	ModeName() string
	Overridden() bool
	SnapshotAge() (time.Duration, bool)
}

type HealthChecker struct {
	mu       sync.RWMutex
	provider StatusProvider
	maxAge   time.Duration
	errors   []string
	maxErrs  int
}

type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Mode        string    `json:"mode"`
	Override    bool      `json:"override"`
	SnapshotAge string    `json:"snapshot_age,omitempty"`
	Uptime      string    `json:"uptime"`
	Errors      []string  `json:"errors,omitempty"`
}

// NewHealthChecker creates a checker that reports degraded when the snapshot is older than maxAge
func NewHealthChecker(provider StatusProvider, maxAge time.Duration) *HealthChecker {
	return &HealthChecker{
		provider: provider,
		maxAge:   maxAge,
		errors:   make([]string, 0),
		maxErrs:  20,
	}
}

// RecordError keeps the most recent errors for the health report
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, time.Now().UTC().Format(time.RFC3339)+" "+msg)
	if len(h.errors) > h.maxErrs {
		h.errors = h.errors[len(h.errors)-h.maxErrs:]
	}
}

// ClearErrors drops the recorded errors
func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = h.errors[:0]
}

// Status computes the current health
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	errs := append([]string(nil), h.errors...)
	h.mu.RUnlock()

	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Errors:    errs,
	}
	if h.provider == nil {
		health.Status = "unhealthy"
		return health
	}

	health.Mode = h.provider.ModeName()
	health.Override = h.provider.Overridden()

	age, ok := h.provider.SnapshotAge()
	if ok {
		health.SnapshotAge = age.Round(time.Millisecond).String()
	}
	if !ok || (h.maxAge > 0 && age > h.maxAge) || health.Mode != "RUNNING" {
		health.Status = "degraded"
	}
	if len(errs) > 0 {
		health.Status = "unhealthy"
	}
	return health
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Status()

	code := http.StatusOK
	switch health.Status {
	case "degraded":
		code = http.StatusServiceUnavailable
	case "unhealthy":
		code = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
