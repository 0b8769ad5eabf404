// SPDX-License-Identifier: MIT

package flex

import (
	"context"
	"path/filepath"
	"time"

	"github.com/ctvcoop/archivist/internal/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher raises a nudge when a new recording lands on any mount, so the
// scheduler can sweep early instead of waiting for the next tick. Events are
// debounced: a HELO writing a large file fires many Write events.
type Watcher struct {
	mounts   []string
	debounce time.Duration
	nudge    chan struct{}
}

// NewWatcher watches the given mount roots. A nil or empty list disables it.
func NewWatcher(mounts []string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 30 * time.Second
	}
	return &Watcher{
		mounts:   mounts,
		debounce: debounce,
		nudge:    make(chan struct{}, 1),
	}
}

// Nudges returns the channel carrying sweep nudges.
func (w *Watcher) Nudges() <-chan struct{} {
	return w.nudge
}

// Run watches until ctx is cancelled. Unwatchable mounts are logged and
// skipped; the watcher never fails the process.
func (w *Watcher) Run(ctx context.Context) {
	logger := log.WithComponent("flex.watcher")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().Err(err).Msg("fsnotify unavailable, mount watching disabled")
		return
	}
	defer func() { _ = watcher.Close() }()

	watched := 0
	for _, m := range w.mounts {
		if err := watcher.Add(m); err != nil {
			logger.Warn().Err(err).Str(log.FieldMount, m).Msg("cannot watch mount")
			continue
		}
		watched++
	}
	if watched == 0 {
		logger.Warn().Msg("no watchable mounts, mount watching disabled")
		return
	}
	logger.Info().Int("mounts", watched).Msg("mount watcher started")

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !hasVideoExtension(filepath.Base(event.Name)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			select {
			case w.nudge <- struct{}{}:
			default: // a nudge is already pending
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("mount watcher error")
		}
	}
}
