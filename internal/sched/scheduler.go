// SPDX-License-Identifier: MIT

package sched

import (
	"context"
	"sync"
	"time"

	"github.com/ctvcoop/archivist/internal/audit"
	"github.com/ctvcoop/archivist/internal/log"
	"golang.org/x/sync/singleflight"
)

const triggerInterval = 30 * time.Second

// HeloSyncer is the capture scheduler surface driven by the tick loop.
type HeloSyncer interface {
	Sync(ctx context.Context) (int, error)
	Trigger(ctx context.Context) error
}

// Auditor runs the daily caption audit.
type Auditor interface {
	Run(ctx context.Context) audit.Report
}

// Options configure the tick loop. Zero intervals disable a cadence.
type Options struct {
	SweepInterval time.Duration
	HeloInterval  time.Duration
	AuditInterval time.Duration

	// Daily anchor sweep wall time.
	AnchorHour   int
	AnchorMinute int
	AnchorZone   *time.Location

	// Nudges are filesystem events that request an early sweep.
	Nudges <-chan struct{}
}

// Scheduler owns every periodic cadence. Exactly one Scheduler runs per
// deployment; the one-shot commands reuse the same Sweeper and Auditor so a
// missed tick can be made up manually without double-counting.
type Scheduler struct {
	sweeper *Sweeper
	helo    HeloSyncer
	auditor Auditor
	opts    Options

	sf singleflight.Group

	mu        sync.Mutex
	lastSweep time.Time
}

// New wires the tick loop. helo and auditor may be nil to disable those
// cadences.
func New(sweeper *Sweeper, helo HeloSyncer, auditor Auditor, opts Options) *Scheduler {
	if opts.AnchorZone == nil {
		opts.AnchorZone = time.UTC
	}
	return &Scheduler{sweeper: sweeper, helo: helo, auditor: auditor, opts: opts}
}

// LastSweep reports when the last sweep finished, for the health probe.
func (s *Scheduler) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

// SweepNow runs one sweep, collapsing concurrent requests into a single pass.
func (s *Scheduler) SweepNow(ctx context.Context) SweepResult {
	v, _, _ := s.sf.Do("sweep", func() (any, error) {
		result := s.sweeper.Sweep(ctx)
		s.mu.Lock()
		s.lastSweep = time.Now()
		s.mu.Unlock()
		return result, nil
	})
	return v.(SweepResult)
}

// Run ticks until ctx is cancelled. Every cadence logs and continues on
// error; the loop itself only exits with the context.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := log.WithComponent("sched")

	sweepTick := newTicker(s.opts.SweepInterval)
	heloTick := newTicker(s.opts.HeloInterval)
	auditTick := newTicker(s.opts.AuditInterval)
	triggerTick := newTicker(triggerInterval)
	defer sweepTick.Stop()
	defer heloTick.Stop()
	defer auditTick.Stop()
	defer triggerTick.Stop()

	anchor := time.NewTimer(time.Until(s.nextAnchor(time.Now())))
	defer anchor.Stop()

	// Initial pass so a fresh daemon starts working immediately.
	s.SweepNow(ctx)
	s.heloSync(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler stopping")
			return ctx.Err()

		case <-sweepTick.C:
			s.SweepNow(ctx)

		case <-s.opts.Nudges:
			logger.Debug().Msg("filesystem nudge, sweeping early")
			s.SweepNow(ctx)

		case <-anchor.C:
			logger.Info().Msg("daily anchor sweep")
			s.SweepNow(ctx)
			anchor.Reset(time.Until(s.nextAnchor(time.Now())))

		case <-heloTick.C:
			s.heloSync(ctx)

		case <-triggerTick.C:
			if s.helo != nil {
				if err := s.helo.Trigger(ctx); err != nil {
					logger.Error().Err(err).Msg("trigger pass failed")
				}
			}

		case <-auditTick.C:
			if s.auditor != nil {
				report := s.auditor.Run(ctx)
				logger.Info().Int("cities", len(report.Cities)).Msg("caption audit complete")
			}
		}
	}
}

func (s *Scheduler) heloSync(ctx context.Context) {
	if s.helo == nil {
		return
	}
	if _, err := s.helo.Sync(ctx); err != nil {
		clog := log.WithComponent("sched")
		clog.Error().Err(err).Msg("capture schedule sync failed")
	}
}

// nextAnchor returns the next daily anchor instant after now.
func (s *Scheduler) nextAnchor(now time.Time) time.Time {
	local := now.In(s.opts.AnchorZone)
	anchor := time.Date(local.Year(), local.Month(), local.Day(),
		s.opts.AnchorHour, s.opts.AnchorMinute, 0, 0, s.opts.AnchorZone)
	if !anchor.After(local) {
		anchor = anchor.Add(24 * time.Hour)
	}
	return anchor
}

// newTicker returns a ticker that never fires for a non-positive interval.
func newTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		t := time.NewTicker(time.Hour)
		t.Stop()
		return t
	}
	return time.NewTicker(d)
}
