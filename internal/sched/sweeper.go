// SPDX-License-Identifier: MIT

// Package sched originates work: the autopriority sweep, the daily anchor,
// the HELO sync cadence and the caption audit all tick here.
package sched

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/ctvcoop/archivist/internal/flex"
	"github.com/ctvcoop/archivist/internal/log"
	"github.com/ctvcoop/archivist/internal/monitor"
	"github.com/ctvcoop/archivist/internal/queue"
	"github.com/ctvcoop/archivist/internal/seen"
	"golang.org/x/sync/errgroup"
)

// Enqueuer is the queue surface the sweep needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, videoPath, city string, priority int) (*queue.Job, error)
}

// SweepResult is the outcome of one autopriority pass, also emitted as the
// JSON report of the one-shot sweep command.
type SweepResult struct {
	Scanned              int            `json:"scanned"`
	Enqueued             int            `json:"enqueued"`
	SkippedCaptioned     int            `json:"skipped_captioned"`
	SkippedAlreadyQueued int            `json:"skipped_already_queued"`
	PerCity              map[string]int `json:"per_city_enqueued"`
	EnqueuedPaths        []string       `json:"enqueued_paths,omitempty"`
}

// Sweeper runs one autopriority pass: scan each city share, skip captioned
// and already-queued videos, enqueue the newest remainder.
type Sweeper struct {
	scanner    *flex.Scanner
	seen       *seen.Store
	queue      Enqueuer
	counters   *monitor.Counters
	MaxPerCity int
}

// NewSweeper wires the sweep. counters may be nil for tests.
func NewSweeper(scanner *flex.Scanner, seenStore *seen.Store, q Enqueuer, counters *monitor.Counters) *Sweeper {
	if counters == nil {
		counters = monitor.NewCounters(nil)
	}
	return &Sweeper{
		scanner:    scanner,
		seen:       seenStore,
		queue:      q,
		counters:   counters,
		MaxPerCity: 1,
	}
}

// Sweep scans every city in parallel. Per-city failures are logged and never
// halt the other cities. Counters are emitted once, after the pass.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	logger := log.WithComponentFromContext(ctx, "sched.sweep")
	result := SweepResult{PerCity: make(map[string]int)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, srv := range s.scanner.Servers() {
		g.Go(func() error {
			city := s.sweepCity(gctx, srv.ID)
			mu.Lock()
			defer mu.Unlock()
			result.Scanned += city.Scanned
			result.Enqueued += city.Enqueued
			result.SkippedCaptioned += city.SkippedCaptioned
			result.SkippedAlreadyQueued += city.SkippedAlreadyQueued
			if city.Enqueued > 0 {
				result.PerCity[srv.ID] += city.Enqueued
			}
			result.EnqueuedPaths = append(result.EnqueuedPaths, city.EnqueuedPaths...)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(result.EnqueuedPaths)

	s.emit(ctx, result)
	logger.Info().
		Int("scanned", result.Scanned).
		Int("enqueued", result.Enqueued).
		Int("skipped_captioned", result.SkippedCaptioned).
		Int("skipped_already_queued", result.SkippedAlreadyQueued).
		Msg("autopriority sweep complete")
	return result
}

func (s *Sweeper) sweepCity(ctx context.Context, cityID string) SweepResult {
	ctx = log.ContextWithCity(ctx, cityID)
	city := SweepResult{}

	assets := s.scanner.Discover(ctx, cityID)
	city.Scanned = len(assets)

	uncaptioned := assets[:0]
	for _, a := range assets {
		if _, err := os.Stat(flex.SidecarPath(a.Path)); err == nil {
			city.SkippedCaptioned++
			continue
		}
		uncaptioned = append(uncaptioned, a)
	}

	maxPerCity := s.MaxPerCity
	if maxPerCity <= 0 {
		maxPerCity = 1
	}
	if len(uncaptioned) > maxPerCity {
		uncaptioned = uncaptioned[:maxPerCity]
	}

	for _, a := range uncaptioned {
		if s.seen.Contains(ctx, a.Path) {
			city.SkippedAlreadyQueued++
			continue
		}
		_, err := s.queue.Enqueue(ctx, a.Path, cityID, queue.PriorityNormal)
		switch {
		case errors.Is(err, queue.ErrAlreadyQueued):
			city.SkippedAlreadyQueued++
			s.seen.Mark(ctx, a.Path)
		case err != nil:
			clog := log.WithComponentFromContext(ctx, "sched.sweep")
			clog.Error().
				Err(err).
				Str(log.FieldPath, a.Path).
				Msg("enqueue failed")
		default:
			city.Enqueued++
			city.EnqueuedPaths = append(city.EnqueuedPaths, a.Path)
			s.seen.Mark(ctx, a.Path)
		}
	}
	return city
}

func (s *Sweeper) emit(ctx context.Context, r SweepResult) {
	s.counters.Add(ctx, monitor.CounterScanned, int64(r.Scanned))
	s.counters.Add(ctx, monitor.CounterEnqueued, int64(r.Enqueued))
	s.counters.Add(ctx, monitor.CounterSkippedCaptioned, int64(r.SkippedCaptioned))
	s.counters.Add(ctx, monitor.CounterSkippedQueued, int64(r.SkippedAlreadyQueued))
	for city, n := range r.PerCity {
		s.counters.AddCity(ctx, city, int64(n))
	}
}
