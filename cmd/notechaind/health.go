// health.go - Component health checks for the notechain daemon.
package main

import (
	"encoding/json"
	"sync"
	"time"
)

const daemonVersion = "0.1.0"

// HealthStatus represents the health of a component or the system.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is one component's health report.
type ComponentHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// SystemHealth aggregates all component reports.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Components []ComponentHealth `json:"components"`
}

// HealthChecker runs registered component checks on demand.
type HealthChecker struct {
	mu        sync.Mutex
	names     []string
	checkers  map[string]func() error
	startTime time.Time
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checkers:  make(map[string]func() error),
		startTime: time.Now(),
	}
}

// RegisterComponent adds a named health check.
func (hc *HealthChecker) RegisterComponent(name string, checker func() error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if _, exists := hc.checkers[name]; !exists {
		hc.names = append(hc.names, name)
	}
	hc.checkers[name] = checker
}

// Check runs every registered check and aggregates the results. The
// system is degraded when some components fail and unhealthy when all
// do.
func (hc *HealthChecker) Check() SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	components := make([]ComponentHealth, 0, len(hc.names))
	failures := 0
	for _, name := range hc.names {
		ch := ComponentHealth{
			Name:      name,
			Status:    StatusHealthy,
			CheckedAt: time.Now(),
		}
		if err := hc.checkers[name](); err != nil {
			ch.Status = StatusUnhealthy
			ch.Error = err.Error()
			failures++
		}
		components = append(components, ch)
	}

	status := StatusHealthy
	switch {
	case len(components) > 0 && failures == len(components):
		status = StatusUnhealthy
	case failures > 0:
		status = StatusDegraded
	}

	return SystemHealth{
		Status:     status,
		Version:    daemonVersion,
		Uptime:     time.Since(hc.startTime).Round(time.Second).String(),
		Components: components,
	}
}

// JSON renders the system health as indented JSON.
func (sh SystemHealth) JSON() string {
	data, err := json.MarshalIndent(sh, "", "  ")
	if err != nil {
		return `{"status":"unhealthy"}`
	}
	return string(data)
}
