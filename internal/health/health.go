package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Component status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
	StatusUnknown  = "unknown"
)

// ComponentHealth represents the health status of a single component.
type ComponentHealth struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LastOK    time.Time `json:"last_ok,omitzero"`
	LastError time.Time `json:"last_error,omitzero"`
}

// Report aggregates health from all components.
type Report struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// Checker is implemented by components that report their own health.
type Checker interface {
	HealthCheck(ctx context.Context) ComponentHealth
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) ComponentHealth

func (f CheckerFunc) HealthCheck(ctx context.Context) ComponentHealth { return f(ctx) }

// Registry holds health checkers for all components.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry creates a new health registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a component health checker.
func (r *Registry) Register(name string, c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = c
}

// Check runs all health checks and returns a report. Overall status is the worst
// component status; "unknown" components do not degrade it.
func (r *Registry) Check(ctx context.Context) Report {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	report := Report{
		Status:     StatusOK,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth, len(names)),
	}
	for _, name := range names {
		r.mu.RLock()
		c := r.checkers[name]
		r.mu.RUnlock()
		h := c.HealthCheck(ctx)
		report.Components[name] = h
		switch {
		case h.Status == StatusError:
			report.Status = StatusError
		case h.Status == StatusDegraded && report.Status == StatusOK:
			report.Status = StatusDegraded
		}
	}
	return report
}
