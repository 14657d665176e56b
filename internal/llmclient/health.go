package llmclient

import (
	"context"
	"sync"
	"time"

	"github.com/hattiebot/familiar/internal/health"
)

// Health tracks the outcome of recent completion calls.
type Health struct {
	mu           sync.RWMutex
	lastSuccess  time.Time
	lastError    time.Time
	lastErrorMsg string
}

// RecordSuccess records a successful API call.
func (h *Health) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSuccess = time.Now()
}

// RecordError records a failed API call.
func (h *Health) RecordError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = time.Now()
	h.lastErrorMsg = err.Error()
}

// HealthCheck reports the client's health from recent calls; it makes no request itself.
func (c *Client) HealthCheck(ctx context.Context) health.ComponentHealth {
	c.health.mu.RLock()
	defer c.health.mu.RUnlock()

	h := health.ComponentHealth{
		Name:   "llm",
		Status: health.StatusOK,
		LastOK: c.health.lastSuccess,
	}
	if !c.health.lastError.IsZero() {
		if c.health.lastError.After(c.health.lastSuccess) {
			h.Status = health.StatusError
			h.Message = c.health.lastErrorMsg
			h.LastError = c.health.lastError
		} else if time.Since(c.health.lastError) < 5*time.Minute {
			h.Status = health.StatusDegraded
			h.Message = "recent error: " + c.health.lastErrorMsg
			h.LastError = c.health.lastError
		}
	}
	if c.health.lastSuccess.IsZero() && c.health.lastError.IsZero() {
		h.Status = health.StatusUnknown
		h.Message = "no API calls yet"
	}
	return h
}
