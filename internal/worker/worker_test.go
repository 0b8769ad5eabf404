// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ctvcoop/archivist/internal/cablecast"
	"github.com/ctvcoop/archivist/internal/caption"
	"github.com/ctvcoop/archivist/internal/faults"
	"github.com/ctvcoop/archivist/internal/flex"
	"github.com/ctvcoop/archivist/internal/match"
	"github.com/ctvcoop/archivist/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeTranscriber struct {
	mu     sync.Mutex
	err    error
	calls  int
	result caption.Result
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{
		result: caption.Result{
			Segments: []caption.Segment{
				{Start: 0, End: 4.5, Text: "The meeting will come to order."},
				{Start: 5, End: 9, Text: "Roll call please."},
			},
			Duration: 5400,
			Language: "en",
			Model:    "large-v3",
		},
	}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string, _ caption.Options) (*caption.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := f.result
	return &r, nil
}

type fakeMatcher struct {
	best *match.Match
	err  error
}

func (f *fakeMatcher) BestMatch(context.Context, string, int) (*match.Match, error) {
	return f.best, f.err
}

type fakeLinker struct {
	mu     sync.Mutex
	err    error
	showID int
	calls  int
}

func (f *fakeLinker) Link(_ context.Context, _ string, showID int, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.showID = showID
	return f.err
}

type fakeVODs struct{ vods []cablecast.VOD }

func (f *fakeVODs) GetVODs(context.Context, int) ([]cablecast.VOD, error) { return f.vods, nil }

type fakeEnricher struct {
	mu       sync.Mutex
	err      error
	warnings []string
	vodID    int
	sccPath  string
	calls    int
}

func (f *fakeEnricher) AttachSidecar(_ context.Context, vodID int, sccPath string, _ *caption.Result) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.vodID = vodID
	f.sccPath = sccPath
	return f.warnings, f.err
}

type fixture struct {
	mgr         *queue.Manager
	transcriber *fakeTranscriber
	matcher     *fakeMatcher
	linker      *fakeLinker
	vods        *fakeVODs
	enricher    *fakeEnricher
	pool        *Pool
	videoPath   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr, err := queue.NewManager(context.Background(), queue.NewMemoryStore(), queue.Options{})
	require.NoError(t, err)

	f := &fixture{
		mgr:         mgr,
		transcriber: newFakeTranscriber(),
		matcher:     &fakeMatcher{best: &match.Match{ShowID: 42, Title: "Council", Score: 0.9}},
		linker:      &fakeLinker{},
		vods:        &fakeVODs{vods: []cablecast.VOD{{ID: 3, ShowID: 42}, {ID: 7, ShowID: 42}}},
		enricher:    &fakeEnricher{},
		videoPath:   filepath.Join(t.TempDir(), "council_2026-08-23.mp4"),
	}
	require.NoError(t, os.WriteFile(f.videoPath, []byte("frame data"), 0o644))
	f.pool = NewPool(mgr, f.transcriber, f.matcher, f.linker, f.vods, f.enricher,
		Options{PollInterval: 5 * time.Millisecond, IDPrefix: "test"})
	return f
}

func (f *fixture) claim(t *testing.T) *queue.Job {
	t.Helper()
	ctx := context.Background()
	_, err := f.mgr.Enqueue(ctx, f.videoPath, "birchwood", queue.PriorityNormal)
	require.NoError(t, err)
	job, err := f.mgr.Claim(ctx, "test-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func (f *fixture) state(t *testing.T, id string) *queue.Job {
	t.Helper()
	job, err := f.mgr.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestPipelineHappyPath(t *testing.T) {
	f := newFixture(t)
	job := f.claim(t)

	f.pool.runJob(context.Background(), "test-1", job)

	got := f.state(t, job.ID)
	assert.Equal(t, queue.StateSucceeded, got.State)
	assert.Empty(t, got.Warnings)

	data, err := os.ReadFile(flex.SidecarPath(f.videoPath))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Scenarist_SCC V1.0")

	assert.Equal(t, 1, f.linker.calls)
	assert.Equal(t, 42, f.linker.showID)
	assert.Equal(t, 1, f.enricher.calls)
	assert.Equal(t, 7, f.enricher.vodID, "newest vod wins")
	assert.Equal(t, flex.SidecarPath(f.videoPath), f.enricher.sccPath)
}

func TestPipelineMissingInputFailsTerminally(t *testing.T) {
	f := newFixture(t)
	job := f.claim(t)
	require.NoError(t, os.Remove(f.videoPath))

	f.pool.runJob(context.Background(), "test-1", job)

	got := f.state(t, job.ID)
	assert.Equal(t, queue.StateFailed, got.State)
	require.NotNil(t, got.LastError)
	assert.Equal(t, string(faults.InputNotFound), got.LastError.Kind)
	assert.Equal(t, 0, f.transcriber.calls)
}

func TestPipelineRetriableFailureRequeues(t *testing.T) {
	f := newFixture(t)
	job := f.claim(t)
	f.transcriber.err = faults.New(faults.TranscribeFailed, "model runtime crashed")

	f.pool.runJob(context.Background(), "test-1", job)

	got := f.state(t, job.ID)
	assert.Equal(t, queue.StateQueued, got.State)
	assert.Equal(t, 2, got.Attempt)
	assert.False(t, got.NotBefore.IsZero(), "backoff gate set")
}

func TestPipelineCancelObservedAtCheckpoint(t *testing.T) {
	f := newFixture(t)
	job := f.claim(t)
	require.NoError(t, f.mgr.Cancel(context.Background(), job.ID))

	f.pool.runJob(context.Background(), "test-1", job)

	got := f.state(t, job.ID)
	assert.Equal(t, queue.StateCancelled, got.State)
	assert.Equal(t, 0, f.transcriber.calls)
}

func TestPipelinePauseParksWithResumeHint(t *testing.T) {
	f := newFixture(t)
	job := f.claim(t)
	require.NoError(t, f.mgr.Pause(context.Background(), job.ID))

	f.pool.runJob(context.Background(), "test-1", job)

	got := f.state(t, job.ID)
	assert.Equal(t, queue.StatePaused, got.State)
	assert.Equal(t, StageProbe, got.ResumeHint)
}

func TestPipelineLowScoreLeavesUnlinked(t *testing.T) {
	f := newFixture(t)
	f.matcher.best = &match.Match{ShowID: 43, Title: "Workshop", Score: 0.35}
	job := f.claim(t)

	f.pool.runJob(context.Background(), "test-1", job)

	got := f.state(t, job.ID)
	assert.Equal(t, queue.StateSucceeded, got.State)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "unlinked")
	assert.Equal(t, 0, f.linker.calls)
	assert.Equal(t, 0, f.enricher.calls, "no link means no enrichment target")
}

func TestPipelineLinkConflictIsWarningOnly(t *testing.T) {
	f := newFixture(t)
	f.linker.err = faults.New(faults.LinkConflict, "already linked to show 40")
	job := f.claim(t)

	f.pool.runJob(context.Background(), "test-1", job)

	got := f.state(t, job.ID)
	assert.Equal(t, queue.StateSucceeded, got.State)
	require.NotEmpty(t, got.Warnings)
	assert.Contains(t, got.Warnings[0], "already linked")
	assert.Equal(t, 1, f.enricher.calls, "conflict still enriches the matched show")
}

func TestPipelineEnrichFailureIsWarningOnly(t *testing.T) {
	f := newFixture(t)
	f.enricher.err = faults.New(faults.UpstreamUnavailable, "503 from upstream")
	job := f.claim(t)

	f.pool.runJob(context.Background(), "test-1", job)

	got := f.state(t, job.ID)
	assert.Equal(t, queue.StateSucceeded, got.State)
	require.NotEmpty(t, got.Warnings)
	assert.Contains(t, got.Warnings[0], "caption upload failed")
}

func TestPipelineMatchErrorIsWarningOnly(t *testing.T) {
	f := newFixture(t)
	f.matcher.err = faults.New(faults.UpstreamUnavailable, "show list unavailable")
	job := f.claim(t)

	f.pool.runJob(context.Background(), "test-1", job)

	got := f.state(t, job.ID)
	assert.Equal(t, queue.StateSucceeded, got.State)
	require.NotEmpty(t, got.Warnings)
	assert.Contains(t, got.Warnings[0], "show match skipped")
}

func TestPoolDrainsQueueAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	ctx := context.Background()
	second := filepath.Join(t.TempDir(), "board_2026-08-22.mp4")
	require.NoError(t, os.WriteFile(second, []byte("frame data"), 0o644))
	_, err := f.mgr.Enqueue(ctx, f.videoPath, "birchwood", queue.PriorityNormal)
	require.NoError(t, err)
	_, err = f.mgr.Enqueue(ctx, second, "cedarview", queue.PriorityNormal)
	require.NoError(t, err)

	f.pool.opts.Workers = 2
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- f.pool.Run(runCtx) }()

	require.Eventually(t, func() bool {
		stats, err := f.mgr.Stats(ctx)
		return err == nil && stats.Succeeded == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPoolShutdownParksRunningJob(t *testing.T) {
	f := newFixture(t)
	job := f.claim(t)

	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	f.pool.runJob(runCtx, "test-1", job)

	got := f.state(t, job.ID)
	assert.Equal(t, queue.StatePaused, got.State)
}
