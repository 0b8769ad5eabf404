// SPDX-License-Identifier: MIT

package helo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ctvcoop/archivist/internal/cablecast"
	"github.com/ctvcoop/archivist/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	mu      sync.Mutex
	city    string
	calls   []string
	failAll bool
}

func (d *fakeDevice) record(call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return errors.New("device unreachable")
	}
	d.calls = append(d.calls, call)
	return nil
}

func (d *fakeDevice) City() string                                { return d.city }
func (d *fakeDevice) StartRecord(context.Context) error           { return d.record("start_record") }
func (d *fakeDevice) StopRecord(context.Context) error            { return d.record("stop_record") }
func (d *fakeDevice) StartStream(context.Context) error           { return d.record("start_stream") }
func (d *fakeDevice) StopStream(context.Context) error            { return d.record("stop_stream") }
func (d *fakeDevice) SetRTMP(_ context.Context, u, k string) error {
	return d.record("set_rtmp:" + u)
}

func (d *fakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

type fakeUpstream struct {
	runs  []cablecast.Run
	shows []cablecast.Show
}

func (f *fakeUpstream) GetRuns(context.Context, time.Time, time.Time, int, int) ([]cablecast.Run, error) {
	return f.runs, nil
}

func (f *fakeUpstream) GetShows(context.Context, int) ([]cablecast.Show, error) {
	return f.shows, nil
}

func openScheduleStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "links.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestScheduleSyncAndTrigger(t *testing.T) {
	// 09:00: a run {show 42, 10:00-11:30, channel 5} appears.
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }

	dev := &fakeDevice{city: "birchwood"}
	up := &fakeUpstream{
		shows: []cablecast.Show{{ID: 42, Title: "Council", EventDate: "2026-08-24", Length: 5400}},
		runs: []cablecast.Run{{
			ID: 1, ShowID: 42, ChannelID: 5,
			Start: base.Add(time.Hour),
			End:   base.Add(150 * time.Minute),
		}},
	}
	st := openScheduleStore(t)
	sched := NewScheduler(SchedulerConfig{
		EnableTriggers: true,
		ChannelToCity:  map[int]string{5: "birchwood"},
		Clock:          clock,
		RTMPURL:        map[string]string{"birchwood": "rtmp://cdn/live"},
		StreamKey:      map[string]string{"birchwood": "sk"},
	}, up, st, []Device{dev})
	ctx := context.Background()

	inserted, err := sched.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	entries, err := st.ListSchedulesByState(ctx, store.ScheduleStateScheduled)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Start.Equal(base.Add(59*time.Minute)), "preroll 60s applied")
	assert.True(t, entries[0].End.Equal(base.Add(150*time.Minute)))

	// Re-sync within the window inserts nothing.
	inserted, err = sched.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	// Before the window opens, a trigger pass does nothing.
	require.NoError(t, sched.Trigger(ctx))
	assert.Empty(t, dev.Calls())

	// 09:59: window open, starts fire, state queued.
	now = base.Add(59 * time.Minute)
	require.NoError(t, sched.Trigger(ctx))
	assert.Equal(t, []string{"set_rtmp:rtmp://cdn/live", "start_record", "start_stream"}, dev.Calls())
	queued, err := st.ListSchedulesByState(ctx, store.ScheduleStateQueued)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	// 11:30: window closed, stops fire, state completed.
	now = base.Add(150 * time.Minute)
	require.NoError(t, sched.Trigger(ctx))
	assert.Equal(t, []string{
		"set_rtmp:rtmp://cdn/live", "start_record", "start_stream",
		"stop_record", "stop_stream",
	}, dev.Calls())
	completed, err := st.ListSchedulesByState(ctx, store.ScheduleStateCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)
}

func TestTriggerFailureMarksEntry(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	now := base.Add(time.Hour)

	dev := &fakeDevice{city: "birchwood", failAll: true}
	up := &fakeUpstream{runs: []cablecast.Run{{
		ID: 1, ShowID: 42, ChannelID: 5,
		Start: base.Add(time.Hour), End: base.Add(2 * time.Hour),
	}}}
	st := openScheduleStore(t)
	sched := NewScheduler(SchedulerConfig{
		EnableTriggers: true,
		ChannelToCity:  map[int]string{5: "birchwood"},
		Clock:          func() time.Time { return now },
	}, up, st, []Device{dev})
	ctx := context.Background()

	_, err := sched.Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, sched.Trigger(ctx))

	failed, err := st.ListSchedulesByState(ctx, store.ScheduleStateFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, "device unreachable")
}

func TestSingleActiveRecordPerDevice(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	now := base

	dev := &fakeDevice{city: "birchwood"}
	up := &fakeUpstream{runs: []cablecast.Run{
		{ID: 1, ShowID: 42, ChannelID: 5, Start: base, End: base.Add(2 * time.Hour)},
		{ID: 2, ShowID: 43, ChannelID: 5, Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)},
	}}
	st := openScheduleStore(t)
	sched := NewScheduler(SchedulerConfig{
		EnableTriggers: true,
		ChannelToCity:  map[int]string{5: "birchwood"},
		Clock:          func() time.Time { return now },
	}, up, st, []Device{dev})
	ctx := context.Background()

	_, err := sched.Sync(ctx)
	require.NoError(t, err)

	now = base.Add(45 * time.Minute)
	require.NoError(t, sched.Trigger(ctx))

	queued, err := st.ListSchedulesByState(ctx, store.ScheduleStateQueued)
	require.NoError(t, err)
	assert.Len(t, queued, 1, "one active record action per device")
	scheduled, err := st.ListSchedulesByState(ctx, store.ScheduleStateScheduled)
	require.NoError(t, err)
	assert.Len(t, scheduled, 1, "second window deferred, not failed")
}

func TestResolveCityPrecedence(t *testing.T) {
	devA := &fakeDevice{city: "birchwood"}
	devB := &fakeDevice{city: "cedarview"}
	st := openScheduleStore(t)
	sched := NewScheduler(SchedulerConfig{
		ChannelToCity:  map[int]string{5: "birchwood"},
		LocationToCity: map[int]string{2: "cedarview"},
		Aliases:        map[string][]string{"cedarview": {"cedar"}},
	}, &fakeUpstream{}, st, []Device{devA, devB})

	// Channel wins over location.
	city := sched.resolveCity(cablecast.Run{ChannelID: 5, LocationID: 2}, cablecast.Show{})
	assert.Equal(t, "birchwood", city)

	// Location when channel unknown.
	city = sched.resolveCity(cablecast.Run{ChannelID: 99, LocationID: 2}, cablecast.Show{})
	assert.Equal(t, "cedarview", city)

	// Title alias when both maps miss.
	city = sched.resolveCity(cablecast.Run{}, cablecast.Show{Title: "Cedar Grove Concert"})
	assert.Equal(t, "cedarview", city)

	// No resolution with two devices and no signals.
	city = sched.resolveCity(cablecast.Run{}, cablecast.Show{Title: "Unknown"})
	assert.Empty(t, city)
}

func TestSingleDeviceFallback(t *testing.T) {
	dev := &fakeDevice{city: "birchwood"}
	st := openScheduleStore(t)
	sched := NewScheduler(SchedulerConfig{}, &fakeUpstream{}, st, []Device{dev})

	city := sched.resolveCity(cablecast.Run{ChannelID: 77}, cablecast.Show{Title: "Anything"})
	assert.Equal(t, "birchwood", city)
}

func TestHeuristicFallbackWhenRunsEmpty(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	dev := &fakeDevice{city: "birchwood"}
	up := &fakeUpstream{
		shows: []cablecast.Show{
			{ID: 42, Title: "Council", EventDate: "2026-08-24", Length: 5400, ChannelID: 5},
			{ID: 43, Title: "Old Show", EventDate: "2026-08-20", Length: 3600, ChannelID: 5},
		},
	}
	st := openScheduleStore(t)
	sched := NewScheduler(SchedulerConfig{
		ChannelToCity: map[int]string{5: "birchwood"},
		Clock:         func() time.Time { return now },
	}, up, st, []Device{dev})

	inserted, err := sched.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, inserted, "only today's show synthesized")
}
