// SPDX-License-Identifier: MIT

// Package queue implements the caption job queue: a priority FIFO with
// single-in-flight-per-path semantics, durable state and retry bookkeeping.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle state of a caption job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) String() string { return string(s) }

// IsValid reports whether the state is one of the defined constants.
func (s State) IsValid() bool {
	switch s {
	case StateQueued, StateRunning, StatePaused, StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the job will never transition again.
func (s State) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the job state machine:
//
//	queued  → running | cancelled
//	running → succeeded | failed | cancelled | paused | queued (requeue)
//	paused  → running | cancelled | queued
func (s State) CanTransitionTo(target State) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StateQueued:
		return target == StateRunning || target == StateCancelled
	case StateRunning:
		return target == StateSucceeded || target == StateFailed ||
			target == StateCancelled || target == StatePaused || target == StateQueued
	case StatePaused:
		return target == StateRunning || target == StateCancelled || target == StateQueued
	default:
		return false
	}
}

// UnmarshalJSON validates states coming from the durable store.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	state := State(str)
	if !state.IsValid() {
		return fmt.Errorf("invalid job state: %q", str)
	}
	*s = state
	return nil
}

// Priorities. Lower runs sooner.
const (
	PriorityHigh   = 0
	PriorityNormal = 10
	PriorityLow    = 20
)

// ErrorInfo is the structured failure attached to a job.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Attempt int    `json:"attempt"`
}

// Job is one caption unit of work. Jobs are owned exclusively by the queue;
// workers hold a claim for the duration of a run.
type Job struct {
	ID        string `json:"id"`
	VideoPath string `json:"video_path"`
	City      string `json:"city"`
	Priority  int    `json:"priority"`
	State     State  `json:"state"`

	// Progress is 0..100, monotonic within a run, reset on retry.
	Progress int    `json:"progress"`
	Stage    string `json:"stage,omitempty"`

	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts"`

	EnqueuedAt  time.Time `json:"enqueued_at"`
	NotBefore   time.Time `json:"not_before,omitempty"` // backoff gate
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	HeartbeatAt time.Time `json:"heartbeat_at,omitempty"`

	Worker     string     `json:"worker,omitempty"`
	LastError  *ErrorInfo `json:"last_error,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
	ResumeHint string     `json:"resume_hint,omitempty"`
	RetryOf    string     `json:"retry_of,omitempty"` // job id this retries
}

// Eligible reports whether the job may be claimed at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	return j.State == StateQueued && !now.Before(j.NotBefore)
}
