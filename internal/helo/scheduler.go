// SPDX-License-Identifier: MIT

package helo

import (
	"context"
	"strings"
	"time"

	"github.com/ctvcoop/archivist/internal/cablecast"
	"github.com/ctvcoop/archivist/internal/log"
	"github.com/ctvcoop/archivist/internal/store"
)

const (
	// DefaultPreroll starts capture ahead of the scheduled run.
	DefaultPreroll = 60 * time.Second
	// DefaultLookahead bounds the run window fetched per sync.
	DefaultLookahead = 120 * time.Minute
)

// Device is the control surface the scheduler needs per HELO.
type Device interface {
	City() string
	StartRecord(ctx context.Context) error
	StopRecord(ctx context.Context) error
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error
	SetRTMP(ctx context.Context, rtmpURL, streamKey string) error
}

// RunSource supplies upstream runs and shows. *cablecast.Client satisfies it.
type RunSource interface {
	GetRuns(ctx context.Context, start, end time.Time, channelID, locationID int) ([]cablecast.Run, error)
	GetShows(ctx context.Context, locationID int) ([]cablecast.Show, error)
}

// ScheduleStore is the persistence slice the scheduler needs.
type ScheduleStore interface {
	UpsertScheduleEntry(ctx context.Context, e store.ScheduleEntry) (bool, error)
	ListSchedulesByState(ctx context.Context, states ...string) ([]store.ScheduleEntry, error)
	UpdateScheduleState(ctx context.Context, id int64, state, lastError string) error
	SyncShows(ctx context.Context, shows []cablecast.Show) error
	GetMirroredShows(ctx context.Context) ([]cablecast.Show, error)
}

// SchedulerConfig wires city resolution and timing.
type SchedulerConfig struct {
	Preroll        time.Duration
	Lookahead      time.Duration
	EnableTriggers bool
	// ChannelToCity has first precedence, LocationToCity second, then a
	// title alias match, then the single-device fallback.
	ChannelToCity  map[int]string
	LocationToCity map[int]string
	// Aliases maps city key to title substrings identifying it.
	Aliases map[string][]string
	Clock   func() time.Time
	// RTMP targets per city, applied before a stream start.
	RTMPURL   map[string]string
	StreamKey map[string]string
}

// Scheduler plans and triggers capture windows.
type Scheduler struct {
	cfg      SchedulerConfig
	upstream RunSource
	store    ScheduleStore
	devices  map[string]Device
}

// NewScheduler builds a Scheduler over the given devices, keyed by city.
func NewScheduler(cfg SchedulerConfig, upstream RunSource, st ScheduleStore, devices []Device) *Scheduler {
	if cfg.Preroll <= 0 {
		cfg.Preroll = DefaultPreroll
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	byCity := make(map[string]Device, len(devices))
	for _, d := range devices {
		byCity[d.City()] = d
	}
	return &Scheduler{cfg: cfg, upstream: upstream, store: st, devices: byCity}
}

// Sync fetches the upcoming run window, refreshes the show mirror and upserts
// plan entries. Inserted reports how many new entries landed.
func (s *Scheduler) Sync(ctx context.Context) (inserted int, err error) {
	logger := log.WithComponent("helo")
	now := s.cfg.Clock()

	shows, err := s.upstream.GetShows(ctx, 0)
	if err != nil {
		logger.Warn().Err(err).Msg("show fetch failed, using mirror")
		shows, err = s.store.GetMirroredShows(ctx)
		if err != nil {
			return 0, err
		}
	} else if err := s.store.SyncShows(ctx, shows); err != nil {
		logger.Warn().Err(err).Msg("show mirror sync failed")
	}
	showByID := make(map[int]cablecast.Show, len(shows))
	for _, show := range shows {
		showByID[show.ID] = show
	}

	runs, err := s.upstream.GetRuns(ctx, now, now.Add(s.cfg.Lookahead), 0, 0)
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		runs = s.heuristicRuns(now, shows)
		if len(runs) > 0 {
			logger.Info().Int("synthesized", len(runs)).Msg("runs endpoint empty, using show heuristic")
		}
	}

	for _, run := range runs {
		show := showByID[run.ShowID]
		city := s.resolveCity(run, show)
		if city == "" {
			logger.Warn().
				Int(log.FieldShowID, run.ShowID).
				Int("channel", run.ChannelID).
				Msg("no device city resolvable for run, skipping")
			continue
		}
		entry := store.ScheduleEntry{
			Device: city,
			ShowID: run.ShowID,
			Start:  run.Start.Add(-s.cfg.Preroll),
			End:    run.End,
			Action: store.ActionRecordStream,
		}
		ok, err := s.store.UpsertScheduleEntry(ctx, entry)
		if err != nil {
			logger.Error().Err(err).Int(log.FieldShowID, run.ShowID).Msg("schedule upsert failed")
			continue
		}
		if ok {
			inserted++
			logger.Info().
				Str(log.FieldDevice, city).
				Int(log.FieldShowID, run.ShowID).
				Time("start", entry.Start).
				Time("end", entry.End).
				Msg("capture window planned")
		}
	}
	return inserted, nil
}

// heuristicRuns synthesizes immediate capture windows from mirrored shows
// airing today when the runs endpoint has nothing.
func (s *Scheduler) heuristicRuns(now time.Time, shows []cablecast.Show) []cablecast.Run {
	var runs []cablecast.Run
	today := now.Format("2006-01-02")
	for _, show := range shows {
		if show.Length <= 0 || show.Date().Format("2006-01-02") != today {
			continue
		}
		runs = append(runs, cablecast.Run{
			ShowID:     show.ID,
			Start:      now.Add(s.cfg.Preroll), // preroll is subtracted back out in planning
			End:        now.Add(time.Duration(show.Length) * time.Second),
			ChannelID:  show.ChannelID,
			LocationID: show.LocationID,
		})
	}
	return runs
}

func (s *Scheduler) resolveCity(run cablecast.Run, show cablecast.Show) string {
	if city, ok := s.cfg.ChannelToCity[run.ChannelID]; ok {
		if _, have := s.devices[city]; have {
			return city
		}
	}
	locID := run.LocationID
	if locID == 0 {
		locID = show.LocationID
	}
	if city, ok := s.cfg.LocationToCity[locID]; ok {
		if _, have := s.devices[city]; have {
			return city
		}
	}
	title := strings.ToLower(show.Title)
	if title != "" {
		for city, aliases := range s.cfg.Aliases {
			if _, have := s.devices[city]; !have {
				continue
			}
			for _, alias := range aliases {
				if alias != "" && strings.Contains(title, strings.ToLower(alias)) {
					return city
				}
			}
		}
	}
	if len(s.devices) == 1 {
		for city := range s.devices {
			return city
		}
	}
	return ""
}

// Trigger advances due entries: starts for windows that opened, stops for
// windows that closed. Failures mark the entry failed with last_error.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.cfg.EnableTriggers {
		return nil
	}
	logger := log.WithComponent("helo")
	now := s.cfg.Clock()

	entries, err := s.store.ListSchedulesByState(ctx, store.ScheduleStateScheduled, store.ScheduleStateQueued)
	if err != nil {
		return err
	}

	recording := make(map[string]bool)
	for _, e := range entries {
		if e.State == store.ScheduleStateQueued {
			recording[e.Device] = true
		}
	}

	for _, e := range entries {
		switch {
		case now.After(e.End) || now.Equal(e.End):
			if e.State == store.ScheduleStateQueued {
				// Stops only follow a start attempt.
				if err := s.stopActions(ctx, e); err != nil {
					s.markFailed(ctx, e, err)
					continue
				}
			} else {
				logger.Warn().
					Str(log.FieldDevice, e.Device).
					Int(log.FieldShowID, e.ShowID).
					Msg("capture window expired before start")
			}
			s.transition(ctx, e, store.ScheduleStateCompleted)

		case e.State == store.ScheduleStateScheduled && !now.Before(e.Start):
			if recording[e.Device] {
				logger.Warn().
					Str(log.FieldDevice, e.Device).
					Int(log.FieldShowID, e.ShowID).
					Msg("device busy, deferring start")
				continue
			}
			if err := s.startActions(ctx, e); err != nil {
				s.markFailed(ctx, e, err)
				continue
			}
			recording[e.Device] = true
			s.transition(ctx, e, store.ScheduleStateQueued)
		}
	}
	return nil
}

func (s *Scheduler) startActions(ctx context.Context, e store.ScheduleEntry) error {
	dev, ok := s.devices[e.Device]
	if !ok {
		return errDeviceMissing(e.Device)
	}
	if strings.Contains(e.Action, store.ActionStream) {
		if url := s.cfg.RTMPURL[e.Device]; url != "" {
			if err := dev.SetRTMP(ctx, url, s.cfg.StreamKey[e.Device]); err != nil {
				return err
			}
		}
	}
	if strings.Contains(e.Action, store.ActionRecord) {
		if err := dev.StartRecord(ctx); err != nil {
			return err
		}
	}
	if strings.Contains(e.Action, store.ActionStream) {
		if err := dev.StartStream(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) stopActions(ctx context.Context, e store.ScheduleEntry) error {
	dev, ok := s.devices[e.Device]
	if !ok {
		return errDeviceMissing(e.Device)
	}
	var firstErr error
	if strings.Contains(e.Action, store.ActionRecord) {
		if err := dev.StopRecord(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if strings.Contains(e.Action, store.ActionStream) {
		if err := dev.StopStream(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) transition(ctx context.Context, e store.ScheduleEntry, state string) {
	if err := s.store.UpdateScheduleState(ctx, e.ID, state, ""); err != nil {
		clog := log.WithComponent("helo")
		clog.Error().Err(err).
			Int64("entry", e.ID).
			Str(log.FieldNewState, state).
			Msg("schedule state update failed")
	}
}

func (s *Scheduler) markFailed(ctx context.Context, e store.ScheduleEntry, cause error) {
	clog := log.WithComponent("helo")
	clog.Error().Err(cause).
		Str(log.FieldDevice, e.Device).
		Int(log.FieldShowID, e.ShowID).
		Msg("schedule entry failed")
	if err := s.store.UpdateScheduleState(ctx, e.ID, store.ScheduleStateFailed, cause.Error()); err != nil {
		clog.Error().Err(err).Int64("entry", e.ID).Msg("schedule state update failed")
	}
}

type errDeviceMissing string

func (e errDeviceMissing) Error() string { return "no device configured for city " + string(e) }
