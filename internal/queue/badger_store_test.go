// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	store := openTestBadger(t)
	ctx := context.Background()

	job := &Job{
		ID:          "j-1",
		VideoPath:   "/mnt/flex-4/council_2026-08-20.mp4",
		City:        "grandriver",
		Priority:    PriorityNormal,
		State:       StateQueued,
		Attempt:     1,
		MaxAttempts: 3,
		EnqueuedAt:  time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Put(ctx, job))

	got, err := store.Get(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, job.VideoPath, got.VideoPath)
	assert.Equal(t, StateQueued, got.State)
	assert.True(t, job.EnqueuedAt.Equal(got.EnqueuedAt))

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStoreListAndDelete(t *testing.T) {
	store := openTestBadger(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(ctx, &Job{ID: id, State: StateQueued, EnqueuedAt: time.Now()}))
	}
	jobs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	require.NoError(t, store.Delete(ctx, "b"))
	jobs, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &Job{ID: "persist", State: StateRunning, Worker: "w1", EnqueuedAt: time.Now()}))
	require.NoError(t, store.Close())

	reopened, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "persist")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)
	assert.Equal(t, "w1", got.Worker)
}
