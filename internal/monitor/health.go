// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"sync"
	"time"
)

// Status is the aggregate or per-probe health verdict.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Checker is one health probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Required marks a checker whose sustained failure makes the aggregate
// critical instead of degraded.
type Required interface {
	Required() bool
}

// Report is the aggregate health snapshot.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Health aggregates probes. A required probe failing for longer than the
// grace window turns the aggregate critical; anything less is degraded.
type Health struct {
	mu           sync.Mutex
	checkers     []Checker
	grace        time.Duration
	clock        func() time.Time
	failingSince map[string]time.Time
}

// NewHealth builds an aggregator with the given critical grace window.
func NewHealth(grace time.Duration) *Health {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	return &Health{
		grace:        grace,
		clock:        time.Now,
		failingSince: make(map[string]time.Time),
	}
}

// Register adds a probe.
func (h *Health) Register(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// Evaluate runs every probe and computes the aggregate status.
func (h *Health) Evaluate(ctx context.Context) Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock()
	report := Report{
		Status:    StatusHealthy,
		Timestamp: now,
		Checks:    make(map[string]CheckResult, len(h.checkers)),
	}

	for _, c := range h.checkers {
		result := c.Check(ctx)
		report.Checks[c.Name()] = result
		if result.Status == StatusHealthy {
			delete(h.failingSince, c.Name())
			continue
		}

		since, seen := h.failingSince[c.Name()]
		if !seen {
			since = now
			h.failingSince[c.Name()] = since
		}

		required := false
		if r, ok := c.(Required); ok {
			required = r.Required()
		}
		if required && now.Sub(since) > h.grace {
			report.Status = StatusCritical
		} else if report.Status != StatusCritical {
			report.Status = StatusDegraded
		}
	}
	return report
}
