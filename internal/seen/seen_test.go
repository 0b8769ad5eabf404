// SPDX-License-Identifier: MIT

package seen

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestMarkAndContains(t *testing.T) {
	_, client := setupRedis(t)
	s := New(client, "", time.Hour)
	ctx := context.Background()

	const path = "/mnt/flex-1/2024-01-15 Council.mp4"
	assert.False(t, s.Contains(ctx, path))

	s.Mark(ctx, path)
	assert.True(t, s.Contains(ctx, path))
	assert.False(t, s.Contains(ctx, "/mnt/flex-1/other.mp4"))
}

func TestRedisTTLExpiry(t *testing.T) {
	mr, client := setupRedis(t)
	s := New(client, "", time.Minute)
	ctx := context.Background()

	s.Mark(ctx, "/mnt/flex-2/a.mp4")
	mr.FastForward(2 * time.Minute)

	assert.False(t, s.Contains(ctx, "/mnt/flex-2/a.mp4"))
}

func TestLocalFallbackWhenRedisDown(t *testing.T) {
	mr, client := setupRedis(t)
	statePath := filepath.Join(t.TempDir(), ".state", "autoprioritize_direct.json")
	s := New(client, statePath, time.Hour)
	ctx := context.Background()

	s.Mark(ctx, "/mnt/flex-3/b.mp4")
	mr.Close() // outage

	// The local JSON backing still answers.
	assert.True(t, s.Contains(ctx, "/mnt/flex-3/b.mp4"))
	assert.False(t, s.Contains(ctx, "/mnt/flex-3/unmarked.mp4"))
}

func TestLocalStateSurvivesRestart(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "seen.json")
	ctx := context.Background()

	s1 := New(nil, statePath, time.Hour)
	s1.Mark(ctx, "/mnt/flex-4/c.mp4")

	s2 := New(nil, statePath, time.Hour)
	assert.True(t, s2.Contains(ctx, "/mnt/flex-4/c.mp4"))

	// File is valid JSON of {path: epoch}.
	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	var entries map[string]int64
	require.NoError(t, json.Unmarshal(data, &entries))
	assert.Contains(t, entries, "/mnt/flex-4/c.mp4")
}

func TestPurgeExpiredLocal(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "seen.json")
	s := New(nil, statePath, time.Nanosecond)
	s.Mark(context.Background(), "/mnt/flex-5/d.mp4")

	time.Sleep(time.Millisecond)
	s.PurgeExpired()

	assert.False(t, s.Contains(context.Background(), "/mnt/flex-5/d.mp4"))
}

func TestCorruptLocalStateStartsEmpty(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "seen.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o644))

	s := New(nil, statePath, time.Hour)
	assert.False(t, s.Contains(context.Background(), "/mnt/flex-6/e.mp4"))
	s.Mark(context.Background(), "/mnt/flex-6/e.mp4")
	assert.True(t, s.Contains(context.Background(), "/mnt/flex-6/e.mp4"))
}

func TestNewFromURLBadURL(t *testing.T) {
	s := NewFromURL(context.Background(), "not-a-url", "", time.Hour)
	assert.False(t, s.Contains(context.Background(), "/x"))
}
