// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ctvcoop/archivist/internal/faults"
	"github.com/ctvcoop/archivist/internal/log"
	"github.com/google/uuid"
)

// ErrAlreadyQueued is returned by Enqueue when the path already has a
// non-terminal job. The existing job id accompanies it.
var ErrAlreadyQueued = errors.New("queue: path already queued")

// Options tune the Manager.
type Options struct {
	MaxRetries     int           // total attempts per job (default 3)
	RetryBase      time.Duration // first backoff (default 60s)
	RetryCap       time.Duration // backoff ceiling (default 1h)
	HeartbeatGrace time.Duration // dead-worker detection (default 5m)
	Clock          func() time.Time
}

func (o *Options) withDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 60 * time.Second
	}
	if o.RetryCap < o.RetryBase {
		o.RetryCap = time.Hour
	}
	if o.HeartbeatGrace <= 0 {
		o.HeartbeatGrace = 5 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Manager owns all job records. Every mutation runs under one lock so the
// check-and-insert in Enqueue and the claim in Claim are atomic.
type Manager struct {
	mu    sync.Mutex
	store Store
	opts  Options

	// inflight maps video path -> id of its single non-terminal job.
	inflight  map[string]string
	cancelReq map[string]bool
	pauseReq  map[string]bool
}

// NewManager builds a Manager over the store, rebuilding the in-flight index
// from persisted state.
func NewManager(ctx context.Context, store Store, opts Options) (*Manager, error) {
	opts.withDefaults()
	m := &Manager{
		store:     store,
		opts:      opts,
		inflight:  make(map[string]string),
		cancelReq: make(map[string]bool),
		pauseReq:  make(map[string]bool),
	}

	jobs, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild queue index: %w", err)
	}
	for _, j := range jobs {
		if !j.State.IsTerminal() {
			m.inflight[j.VideoPath] = j.ID
		}
	}
	return m, nil
}

// RecoverOrphans requeues jobs a dead process left running or paused. Called
// once at daemon startup, before workers start claiming.
func (m *Manager) RecoverOrphans(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, j := range jobs {
		if j.State != StateRunning && j.State != StatePaused {
			continue
		}
		j.State = StateQueued
		j.Worker = ""
		j.Progress = 0
		j.Stage = ""
		if err := m.store.Put(ctx, j); err != nil {
			return recovered, err
		}
		recovered++
	}
	if recovered > 0 {
		clog := log.WithComponent("queue")
		clog.Info().Int("recovered", recovered).Msg("startup: requeued orphaned jobs")
	}
	return recovered, nil
}

// Enqueue inserts a new job for videoPath unless a non-terminal job for the
// path exists, in which case the existing id is returned with
// ErrAlreadyQueued.
func (m *Manager) Enqueue(ctx context.Context, videoPath, city string, priority int) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.inflight[videoPath]; ok {
		job, err := m.store.Get(ctx, existing)
		if err == nil && !job.State.IsTerminal() {
			return job, ErrAlreadyQueued
		}
		// Index was stale; fall through and replace it.
	}

	job := &Job{
		ID:          uuid.NewString(),
		VideoPath:   videoPath,
		City:        city,
		Priority:    priority,
		State:       StateQueued,
		Attempt:     1,
		MaxAttempts: m.opts.MaxRetries,
		EnqueuedAt:  m.opts.Clock(),
	}
	if err := m.store.Put(ctx, job); err != nil {
		return nil, err
	}
	m.inflight[videoPath] = job.ID
	return job, nil
}

// Get returns a job by id.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.store.Get(ctx, id)
}

// ListFilter narrows List output. Zero values match everything.
type ListFilter struct {
	State State
	City  string
}

// List returns jobs matching the filter, ordered by enqueue time.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := jobs[:0]
	for _, j := range jobs {
		if filter.State != "" && j.State != filter.State {
			continue
		}
		if filter.City != "" && j.City != filter.City {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].EnqueuedAt.Before(out[k].EnqueuedAt) })
	return out, nil
}

// Claim atomically hands the best eligible job to a worker: lowest priority
// number first, FIFO within a band. Returns nil when nothing is eligible.
func (m *Manager) Claim(ctx context.Context, workerID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := m.opts.Clock()

	var best *Job
	for _, j := range jobs {
		if !j.Eligible(now) {
			continue
		}
		if best == nil || claimBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = StateRunning
	best.Worker = workerID
	best.StartedAt = now
	best.HeartbeatAt = now
	best.Progress = 0
	best.Stage = ""
	if err := m.store.Put(ctx, best); err != nil {
		return nil, err
	}
	return best, nil
}

func claimBefore(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}

// Heartbeat records liveness and monotonic progress for a running job.
func (m *Manager) Heartbeat(ctx context.Context, id, workerID string, progress int, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State != StateRunning || job.Worker != workerID {
		return faults.New(faults.StateConflict, "heartbeat for job %s in state %s", id, job.State)
	}
	job.HeartbeatAt = m.opts.Clock()
	if progress > job.Progress {
		job.Progress = progress
	}
	if stage != "" {
		job.Stage = stage
	}
	return m.store.Put(ctx, job)
}

// Complete transitions a running job to succeeded. Warnings mark a success
// that needs operator attention (e.g. sidecar uploaded, metadata pending).
func (m *Manager) Complete(ctx context.Context, id string, warnings []string) error {
	return m.finish(ctx, id, StateSucceeded, nil, warnings)
}

// Fail records a structured failure. Retriable faults under the attempt
// budget are requeued with exponential backoff instead of going terminal.
func (m *Manager) Fail(ctx context.Context, id string, kind faults.Kind, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State != StateRunning {
		return faults.New(faults.StateConflict, "fail for job %s in state %s", id, job.State)
	}

	job.LastError = &ErrorInfo{Kind: string(kind), Message: message, Attempt: job.Attempt}

	if kind.Retriable() && job.Attempt < job.MaxAttempts {
		backoff := m.backoff(job.Attempt)
		job.Attempt++
		job.State = StateQueued
		job.Worker = ""
		job.Progress = 0
		job.Stage = ""
		job.NotBefore = m.opts.Clock().Add(backoff)
		clog := log.WithComponent("queue")
		clog.Warn().
			Str(log.FieldJobID, job.ID).
			Str("kind", string(kind)).
			Int(log.FieldAttempt, job.Attempt).
			Dur("backoff", backoff).
			Msg("job failed, retry scheduled")
		return m.store.Put(ctx, job)
	}

	job.State = StateFailed
	job.FinishedAt = m.opts.Clock()
	job.Worker = ""
	delete(m.inflight, job.VideoPath)
	delete(m.cancelReq, job.ID)
	delete(m.pauseReq, job.ID)
	return m.store.Put(ctx, job)
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.opts.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.opts.RetryCap {
			return m.opts.RetryCap
		}
	}
	if d > m.opts.RetryCap {
		d = m.opts.RetryCap
	}
	return d
}

func (m *Manager) finish(ctx context.Context, id string, state State, errInfo *ErrorInfo, warnings []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.State.CanTransitionTo(state) {
		return faults.New(faults.StateConflict, "job %s: %s -> %s", id, job.State, state)
	}
	job.State = state
	job.FinishedAt = m.opts.Clock()
	job.Worker = ""
	if errInfo != nil {
		job.LastError = errInfo
	}
	if len(warnings) > 0 {
		job.Warnings = append(job.Warnings, warnings...)
	}
	if state == StateSucceeded {
		job.Progress = 100
	}
	delete(m.inflight, job.VideoPath)
	delete(m.cancelReq, job.ID)
	delete(m.pauseReq, job.ID)
	return m.store.Put(ctx, job)
}

// Cancel terminates a queued job immediately, or requests cooperative
// cancellation of a running one (the worker observes it at the next
// checkpoint).
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch job.State {
	case StateQueued, StatePaused:
		job.State = StateCancelled
		job.FinishedAt = m.opts.Clock()
		delete(m.inflight, job.VideoPath)
		delete(m.cancelReq, job.ID)
		delete(m.pauseReq, job.ID)
		return m.store.Put(ctx, job)
	case StateRunning:
		m.cancelReq[id] = true
		return nil
	default:
		return faults.New(faults.StateConflict, "cancel for job %s in state %s", id, job.State)
	}
}

// CancelRequested is polled by workers at checkpoints.
func (m *Manager) CancelRequested(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelReq[id]
}

// AckCancel finalizes a cooperative cancellation observed by a worker.
func (m *Manager) AckCancel(ctx context.Context, id string) error {
	return m.finish(ctx, id, StateCancelled, nil, nil)
}

// Pause requests that a running job park at its next checkpoint, or holds a
// queued job in place.
func (m *Manager) Pause(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch job.State {
	case StateRunning:
		m.pauseReq[id] = true
		return nil
	case StateQueued:
		job.State = StatePaused
		return m.store.Put(ctx, job)
	default:
		return faults.New(faults.StateConflict, "pause for job %s in state %s", id, job.State)
	}
}

// PauseRequested is polled by workers at checkpoints.
func (m *Manager) PauseRequested(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseReq[id]
}

// MarkPaused parks a running job with a resume hint. Called by the worker
// when it observes a pause request or during graceful shutdown.
func (m *Manager) MarkPaused(ctx context.Context, id, resumeHint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.State.CanTransitionTo(StatePaused) {
		return faults.New(faults.StateConflict, "park for job %s in state %s", id, job.State)
	}
	job.State = StatePaused
	job.Worker = ""
	job.ResumeHint = resumeHint
	delete(m.pauseReq, id)
	return m.store.Put(ctx, job)
}

// Resume returns a paused job to the queue.
func (m *Manager) Resume(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State != StatePaused {
		return faults.New(faults.StateConflict, "resume for job %s in state %s", id, job.State)
	}
	job.State = StateQueued
	return m.store.Put(ctx, job)
}

// Reorder changes a queued job's priority.
func (m *Manager) Reorder(ctx context.Context, id string, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State != StateQueued {
		return faults.New(faults.StateConflict, "reorder for job %s in state %s", id, job.State)
	}
	job.Priority = priority
	return m.store.Put(ctx, job)
}

// Remove deletes a terminal job record.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.State.IsTerminal() {
		return faults.New(faults.StateConflict, "remove for non-terminal job %s", id)
	}
	return m.store.Delete(ctx, id)
}

// Retry creates a fresh job for a failed one. The new job carries an
// incremented attempt count and references its predecessor.
func (m *Manager) Retry(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.State != StateFailed {
		return nil, faults.New(faults.StateConflict, "retry for job %s in state %s", id, prev.State)
	}
	if existing, ok := m.inflight[prev.VideoPath]; ok {
		job, gerr := m.store.Get(ctx, existing)
		if gerr == nil && !job.State.IsTerminal() {
			return job, ErrAlreadyQueued
		}
	}

	job := &Job{
		ID:          uuid.NewString(),
		VideoPath:   prev.VideoPath,
		City:        prev.City,
		Priority:    prev.Priority,
		State:       StateQueued,
		Attempt:     prev.Attempt + 1,
		MaxAttempts: prev.MaxAttempts,
		EnqueuedAt:  m.opts.Clock(),
		RetryOf:     prev.ID,
	}
	if err := m.store.Put(ctx, job); err != nil {
		return nil, err
	}
	m.inflight[prev.VideoPath] = job.ID
	return job, nil
}

// RequeueStale returns running jobs whose worker heartbeat exceeded the grace
// window back to the queue. Returns the number requeued.
func (m *Manager) RequeueStale(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := m.opts.Clock()
	requeued := 0
	for _, j := range jobs {
		if j.State != StateRunning {
			continue
		}
		if now.Sub(j.HeartbeatAt) <= m.opts.HeartbeatGrace {
			continue
		}
		clog := log.WithComponent("queue")
		clog.Warn().
			Str(log.FieldJobID, j.ID).
			Str("worker", j.Worker).
			Time("last_heartbeat", j.HeartbeatAt).
			Msg("worker heartbeat stale, requeuing job")
		j.State = StateQueued
		j.Worker = ""
		j.Progress = 0
		j.Stage = ""
		if err := m.store.Put(ctx, j); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// Cleanup evicts terminal jobs older than maxAge. Returns the number removed.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.opts.Clock().Add(-maxAge)
	removed := 0
	for _, j := range jobs {
		if !j.State.IsTerminal() || j.FinishedAt.IsZero() || j.FinishedAt.After(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, j.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
