package llm

import (
	"log/slog"
	"sync"
	"time"
)

// health is the per-backend health bookkeeping shared by all vendor
// implementations. Each backend owns exactly one; nothing outside the
// backend mutates it.
//
// Two states: healthy and unhealthy. Any successful call resets the error
// count and clears the last error; any failure increments the count and
// records the message. There is no time-based recovery: an unhealthy
// backend stays unhealthy until its next call succeeds.
type health struct {
	name string

	mu         sync.Mutex
	healthy    bool
	lastCheck  *time.Time
	lastError  string
	errorCount int
	latencyMs  float64
}

func newHealth(name string) *health {
	return &health{name: name, healthy: true}
}

// markHealthy records a successful call.
func (h *health) markHealthy() {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasUnhealthy := !h.healthy
	now := time.Now()
	h.healthy = true
	h.lastError = ""
	h.errorCount = 0
	h.lastCheck = &now

	if wasUnhealthy {
		slog.Info("backend recovered", "backend", h.name)
	}
}

// markUnhealthy records a failed call.
func (h *health) markUnhealthy(errMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.healthy = false
	h.lastError = errMsg
	h.errorCount++
	h.lastCheck = &now

	slog.Warn("backend marked unhealthy", "backend", h.name, "error", errMsg)
}

// recordLatency stores the most recent call latency.
func (h *health) recordLatency(ms float64) {
	h.mu.Lock()
	h.latencyMs = ms
	h.mu.Unlock()
}

// isHealthy reports the current health flag.
func (h *health) isHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

// status returns a copy of the current bookkeeping.
func (h *health) status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Status{
		Name:       h.name,
		IsHealthy:  h.healthy,
		LastError:  h.lastError,
		ErrorCount: h.errorCount,
		LatencyMs:  h.latencyMs,
	}
	if h.lastCheck != nil {
		t := *h.lastCheck
		s.LastCheck = &t
	}
	return s
}
