// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctvcoop/archivist/internal/cablecast"
	"github.com/ctvcoop/archivist/internal/config"
	"github.com/ctvcoop/archivist/internal/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "links.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLinkOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Link(ctx, "tr-1", 42, "Council", 5400))

	err := s.Link(ctx, "tr-1", 43, "Other", 3600)
	kind, ok := faults.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, faults.LinkConflict, kind)

	got, err := s.GetLink(ctx, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, 42, got.ShowID, "conflicting link must not overwrite")
	assert.Equal(t, "Council", got.TitleSnapshot)
	assert.Equal(t, 5400, got.DurationSnapshot)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestUnlinkIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Link(ctx, "tr-1", 42, "Council", 5400))
	require.NoError(t, s.Unlink(ctx, "tr-1"))
	require.NoError(t, s.Unlink(ctx, "tr-1"), "second unlink is a no-op")

	_, err := s.GetLink(ctx, "tr-1")
	assert.ErrorIs(t, err, ErrLinkNotFound)

	// After unlink the transcription may link again.
	require.NoError(t, s.Link(ctx, "tr-1", 43, "Workshop", 3600))
}

func TestListLinksByShow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Link(ctx, "tr-1", 42, "Council", 5400))
	require.NoError(t, s.Link(ctx, "tr-2", 42, "Council", 5400))
	require.NoError(t, s.Link(ctx, "tr-3", 43, "Workshop", 3600))

	links, err := s.ListLinks(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, links, 2)

	all, err := s.ListLinks(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSyncShowsUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SyncShows(ctx, []cablecast.Show{
		{ID: 42, Title: "Council", EventDate: "2024-01-15", Length: 5400},
		{ID: 43, Title: "Workshop", EventDate: "2024-01-15", Length: 3600},
	}))
	// Second batch updates in place, no duplicate rows.
	require.NoError(t, s.SyncShows(ctx, []cablecast.Show{
		{ID: 42, Title: "Council Regular Meeting", EventDate: "2024-01-15", Length: 5460},
	}))

	shows, err := s.GetMirroredShows(ctx)
	require.NoError(t, err)
	require.Len(t, shows, 2)
	assert.Equal(t, "Council Regular Meeting", shows[0].Title)
	assert.Equal(t, 5460, shows[0].Length)
}

func TestVODMirror(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	captions := false
	require.NoError(t, s.UpsertVOD(ctx, cablecast.VOD{
		ID: 7, ShowID: 42, State: cablecast.VODStateReady,
		PercentComplete: 100, CaptionsAvailable: &captions,
	}))

	got, err := s.GetVODForShow(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.ID)
	require.NotNil(t, got.CaptionsAvailable)
	assert.False(t, *got.CaptionsAvailable)

	none, err := s.GetVODForShow(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestReplaceChapters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceChapters(ctx, 7, []cablecast.Chapter{
		{Title: "Call to Order", StartS: 0, EndS: 120},
		{Title: "Public Comment", StartS: 120, EndS: 900},
	}))
	require.NoError(t, s.ReplaceChapters(ctx, 7, []cablecast.Chapter{
		{Title: "Full Meeting", StartS: 0, EndS: 5400},
	}))

	chapters, err := s.GetChapters(ctx, 7)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	assert.Equal(t, "Full Meeting", chapters[0].Title)
}

func TestScheduleUpsertIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := ScheduleEntry{
		Device: "birchwood",
		ShowID: 42,
		Start:  time.Date(2026, 8, 24, 9, 59, 0, 0, time.UTC),
		End:    time.Date(2026, 8, 24, 11, 30, 0, 0, time.UTC),
		Action: ActionRecordStream,
	}
	inserted, err := s.UpsertScheduleEntry(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.UpsertScheduleEntry(ctx, entry)
	require.NoError(t, err)
	assert.False(t, inserted, "same (device, show, start, end) must not duplicate")

	entries, err := s.ListSchedulesByState(ctx, ScheduleStateScheduled)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionRecordStream, entries[0].Action)
	assert.True(t, entries[0].Start.Equal(entry.Start))
}

func TestScheduleStateTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertScheduleEntry(ctx, ScheduleEntry{
		Device: "cedarview", ShowID: 50,
		Start:  time.Now().UTC().Truncate(time.Second),
		End:    time.Now().UTC().Add(time.Hour).Truncate(time.Second),
		Action: ActionRecord,
	})
	require.NoError(t, err)

	entries, err := s.ListSchedulesByState(ctx, ScheduleStateScheduled)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	id := entries[0].ID

	require.NoError(t, s.UpdateScheduleState(ctx, id, ScheduleStateFailed, "device unreachable"))
	got, err := s.GetScheduleEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ScheduleStateFailed, got.State)
	assert.Equal(t, "device unreachable", got.LastError)

	none, err := s.ListSchedulesByState(ctx, ScheduleStateScheduled, ScheduleStateQueued)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSyncHeloDevices(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SyncHeloDevices(ctx, []config.HeloDevice{
		{City: "birchwood", IP: "10.1.5.20", ChannelID: 5, RTMPURL: "rtmp://cdn/live"},
	}))
	// Re-sync replaces the table.
	require.NoError(t, s.SyncHeloDevices(ctx, []config.HeloDevice{
		{City: "birchwood", IP: "10.1.5.21", ChannelID: 5},
		{City: "cedarview", IP: "10.1.6.20", ChannelID: 6},
	}))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM helo_devices`).Scan(&n))
	assert.Equal(t, 2, n)
	var ip string
	require.NoError(t, s.db.QueryRow(`SELECT ip FROM helo_devices WHERE city = 'birchwood'`).Scan(&ip))
	assert.Equal(t, "10.1.5.21", ip)
}
