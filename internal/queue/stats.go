// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"time"
)

// Stats is a point-in-time summary of the queue, served by the ops endpoint
// and logged once per scheduler sweep.
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Paused    int `json:"paused"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	// AvgWait is the mean queued-to-started latency of jobs that started.
	AvgWait time.Duration `json:"avg_wait_ns"`
	// AvgProcessing is the mean started-to-finished latency of finished jobs.
	AvgProcessing time.Duration `json:"avg_processing_ns"`
	// SuccessRate is succeeded / (succeeded + failed), 0 when neither.
	SuccessRate float64 `json:"success_rate"`
	// JobsPerHour counts jobs finished in the trailing hour.
	JobsPerHour int `json:"jobs_per_hour"`
}

// Stats aggregates over every stored job record.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs, err := m.store.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	now := m.opts.Clock()
	hourAgo := now.Add(-time.Hour)

	var s Stats
	var waitSum, procSum time.Duration
	var waitN, procN int
	for _, j := range jobs {
		switch j.State {
		case StateQueued:
			s.Queued++
		case StateRunning:
			s.Running++
		case StatePaused:
			s.Paused++
		case StateSucceeded:
			s.Succeeded++
		case StateFailed:
			s.Failed++
		case StateCancelled:
			s.Cancelled++
		}
		if !j.StartedAt.IsZero() {
			waitSum += j.StartedAt.Sub(j.EnqueuedAt)
			waitN++
		}
		if !j.FinishedAt.IsZero() && !j.StartedAt.IsZero() {
			procSum += j.FinishedAt.Sub(j.StartedAt)
			procN++
		}
		if !j.FinishedAt.IsZero() && j.FinishedAt.After(hourAgo) {
			s.JobsPerHour++
		}
	}
	if waitN > 0 {
		s.AvgWait = waitSum / time.Duration(waitN)
	}
	if procN > 0 {
		s.AvgProcessing = procSum / time.Duration(procN)
	}
	if s.Succeeded+s.Failed > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Succeeded+s.Failed)
	}
	return s, nil
}
