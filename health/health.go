// Package health aggregates liveness checks from the backend's dependencies
// into a single status for the health endpoint.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status values, ordered from best to worst.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the health of one component or of the whole system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// Healthy builds a healthy status for a component.
func Healthy(component string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
	}
}

// Degraded builds a degraded status. The component works but something needs
// attention, e.g. a reconnecting broker.
func Degraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Unhealthy builds an unhealthy status.
func Unhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusUnhealthy,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Check probes one dependency. Checks must honor the context deadline.
type Check func(ctx context.Context) Status

// Monitor runs registered checks on demand. The zero value is not usable;
// create one with NewMonitor.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check)}
}

// Register adds or replaces a named check.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Overall runs every check and folds the results. The system is healthy only
// when all checks pass; one degraded check degrades the whole, one unhealthy
// check fails it.
func (m *Monitor) Overall(ctx context.Context) Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	checks := make([]Check, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		checks = append(checks, m.checks[name])
	}
	m.mu.RUnlock()

	overall := Healthy("system")
	for i, check := range checks {
		sub := check(ctx)
		if sub.Component == "" {
			sub.Component = names[i]
		}
		overall.SubStatuses = append(overall.SubStatuses, sub)

		switch sub.Status {
		case StatusUnhealthy:
			overall.Healthy = false
			overall.Status = StatusUnhealthy
			overall.Message = sub.Component + ": " + sub.Message
		case StatusDegraded:
			if overall.Status == StatusHealthy {
				overall.Healthy = false
				overall.Status = StatusDegraded
				overall.Message = sub.Component + ": " + sub.Message
			}
		}
	}
	return overall
}
