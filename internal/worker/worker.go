// SPDX-License-Identifier: MIT

// Package worker drains the caption queue: each worker claims a job and runs
// the transcribe, encode, match, link, enrich pipeline with cooperative
// checkpoints between stages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ctvcoop/archivist/internal/cablecast"
	"github.com/ctvcoop/archivist/internal/caption"
	"github.com/ctvcoop/archivist/internal/faults"
	"github.com/ctvcoop/archivist/internal/flex"
	"github.com/ctvcoop/archivist/internal/log"
	"github.com/ctvcoop/archivist/internal/match"
	"github.com/ctvcoop/archivist/internal/monitor"
	"github.com/ctvcoop/archivist/internal/queue"
	"github.com/ctvcoop/archivist/internal/scc"
	"golang.org/x/sync/errgroup"
)

// Pipeline stage names, surfaced through job status and resume hints.
const (
	StageProbe      = "probe"
	StageTranscribe = "transcribe"
	StageEncode     = "encode"
	StageMatch      = "match"
	StageLink       = "link"
	StageEnrich     = "enrich"
)

const (
	defaultPollInterval  = 2 * time.Second
	defaultShutdownGrace = 5 * time.Second
)

// Run-control sentinels. The pipeline aborts without a terminal transition;
// the queue state was already settled by the checkpoint that raised them.
var (
	errCancelled = errors.New("worker: job cancelled")
	errParked    = errors.New("worker: job parked")
)

// Matcher ranks a recording against the upstream show list.
type Matcher interface {
	BestMatch(ctx context.Context, videoPath string, durationS int) (*match.Match, error)
}

// Linker persists a transcription-to-show link.
type Linker interface {
	Link(ctx context.Context, transcriptionID string, showID int, titleSnapshot string, durationSnapshot int) error
}

// VODSource lists the VODs of a show, for enrichment targeting.
type VODSource interface {
	GetVODs(ctx context.Context, showID int) ([]cablecast.VOD, error)
}

// Enricher pushes the finished sidecar and transcript metadata upstream.
type Enricher interface {
	AttachSidecar(ctx context.Context, vodID int, sccPath string, result *caption.Result) ([]string, error)
}

// Options tune the pool.
type Options struct {
	Workers      int
	PollInterval time.Duration
	// Language forwarded to the transcription backend; empty autodetects.
	Language string
	// ShutdownGrace bounds the park transaction after ctx cancellation.
	ShutdownGrace time.Duration
	// IDPrefix namespaces worker ids, normally the hostname.
	IDPrefix string
}

func (o *Options) withDefaults() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = defaultShutdownGrace
	}
	if o.IDPrefix == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		o.IDPrefix = host
	}
}

// Pool runs N claim loops against one queue manager.
type Pool struct {
	mgr         *queue.Manager
	transcriber caption.Transcriber
	matcher     Matcher
	linker      Linker
	vods        VODSource
	enricher    Enricher
	opts        Options
}

// NewPool wires the pipeline. matcher, linker, vods and enricher may each be
// nil, which skips the corresponding stage; transcription and encoding always
// run.
func NewPool(mgr *queue.Manager, transcriber caption.Transcriber, matcher Matcher, linker Linker, vods VODSource, enricher Enricher, opts Options) *Pool {
	opts.withDefaults()
	return &Pool{
		mgr:         mgr,
		transcriber: transcriber,
		matcher:     matcher,
		linker:      linker,
		vods:        vods,
		enricher:    enricher,
		opts:        opts,
	}
}

// Run blocks until ctx is cancelled. Workers finish their current checkpoint,
// park any in-flight job, and return.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d", p.opts.IDPrefix, i+1)
		g.Go(func() error {
			p.loop(gctx, workerID)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	logger := log.WithComponent("worker").With().Str("worker", workerID).Logger()
	logger.Info().Msg("worker started")

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			logger.Info().Msg("worker stopped")
			return
		}
		job, err := p.mgr.Claim(ctx, workerID)
		if err != nil {
			logger.Error().Err(err).Msg("claim failed")
		}
		if job != nil {
			p.runJob(ctx, workerID, job)
			// Claim again immediately while work is available.
			continue
		}
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// runJob drives one job through the pipeline and settles its final state.
func (p *Pool) runJob(ctx context.Context, workerID string, job *queue.Job) {
	ctx = log.ContextWithJobID(log.ContextWithCity(ctx, job.City), job.ID)
	logger := log.WithComponentFromContext(ctx, "worker")
	started := time.Now()

	warnings, err := p.pipeline(ctx, workerID, job)
	switch {
	case err == nil:
		if cerr := p.mgr.Complete(ctx, job.ID, warnings); cerr != nil {
			logger.Error().Err(cerr).Msg("complete transition failed")
			return
		}
		monitor.JobDuration.Observe(time.Since(started).Seconds())
		logger.Info().
			Str(log.FieldPath, job.VideoPath).
			Int("warnings", len(warnings)).
			Dur("elapsed", time.Since(started)).
			Msg("caption job succeeded")

	case errors.Is(err, errCancelled):
		logger.Info().Str(log.FieldPath, job.VideoPath).Msg("caption job cancelled")

	case errors.Is(err, errParked):
		logger.Info().Str(log.FieldPath, job.VideoPath).Msg("caption job parked")

	case ctx.Err() != nil:
		p.park(job, lastStage(job))

	default:
		kind, ok := faults.KindOf(err)
		if !ok {
			kind = faults.TranscribeFailed
		}
		if ferr := p.mgr.Fail(ctx, job.ID, kind, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("fail transition failed")
		}
		logger.Warn().
			Err(err).
			Str(log.FieldPath, job.VideoPath).
			Str("kind", string(kind)).
			Msg("caption job failed")
	}
}

// park moves an interrupted job to paused with a resume hint, under its own
// deadline since the run context is already dead.
func (p *Pool) park(job *queue.Job, stage string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.ShutdownGrace)
	defer cancel()
	if err := p.mgr.MarkPaused(ctx, job.ID, stage); err != nil {
		clog := log.WithComponent("worker")
		clog.Error().
			Err(err).
			Str(log.FieldJobID, job.ID).
			Msg("park on shutdown failed")
	}
}

func lastStage(job *queue.Job) string {
	if job.Stage != "" {
		return job.Stage
	}
	return StageProbe
}

// pipeline runs the stages. A nil error means the sidecar was written; match,
// link and enrichment problems degrade to warnings rather than failing a
// transcription that already exists on disk.
func (p *Pool) pipeline(ctx context.Context, workerID string, job *queue.Job) ([]string, error) {
	logger := log.WithComponentFromContext(ctx, "worker")

	if err := p.checkpoint(ctx, workerID, job, 5, StageProbe); err != nil {
		return nil, err
	}
	if _, err := os.Stat(job.VideoPath); err != nil {
		if os.IsNotExist(err) {
			return nil, faults.Wrap(faults.InputNotFound, err, "video missing: %s", job.VideoPath)
		}
		return nil, faults.Wrap(faults.InputUnreadable, err, "video unreadable: %s", job.VideoPath)
	}

	if err := p.checkpoint(ctx, workerID, job, 10, StageTranscribe); err != nil {
		return nil, err
	}
	result, err := p.transcriber.Transcribe(ctx, job.VideoPath, caption.Options{Language: p.opts.Language})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if err := p.checkpoint(ctx, workerID, job, 70, StageEncode); err != nil {
		return nil, err
	}
	sccPath := flex.SidecarPath(job.VideoPath)
	if err := scc.WriteFile(sccPath, result.Segments); err != nil {
		return nil, faults.Wrap(faults.EncodeFailed, err, "sidecar write failed: %s", sccPath)
	}
	logger.Info().
		Str(log.FieldSCCPath, sccPath).
		Int("segments", len(result.Segments)).
		Msg("sidecar written")

	var warnings []string
	showID := 0
	if p.matcher != nil {
		if err := p.checkpoint(ctx, workerID, job, 80, StageMatch); err != nil {
			return warnings, err
		}
		showID, warnings = p.matchAndLink(ctx, job, result, warnings)
	}

	if showID > 0 && p.enricher != nil && p.vods != nil {
		if err := p.checkpoint(ctx, workerID, job, 90, StageEnrich); err != nil {
			return warnings, err
		}
		warnings = p.enrich(ctx, showID, sccPath, result, warnings)
	}

	if err := p.mgr.Heartbeat(ctx, job.ID, workerID, 100, ""); err != nil {
		logger.Debug().Err(err).Msg("final heartbeat rejected")
	}
	return warnings, nil
}

// matchAndLink resolves the show and records the link. Returns the linked
// show id, 0 when nothing was linked.
func (p *Pool) matchAndLink(ctx context.Context, job *queue.Job, result *caption.Result, warnings []string) (int, []string) {
	logger := log.WithComponentFromContext(ctx, "worker")

	best, err := p.matcher.BestMatch(ctx, job.VideoPath, int(result.Duration))
	if err != nil {
		return 0, append(warnings, fmt.Sprintf("show match skipped: %v", err))
	}
	if best == nil {
		logger.Info().Str(log.FieldPath, job.VideoPath).Msg("no plausible show candidate")
		return 0, warnings
	}
	if !best.AutoLinkable() {
		logger.Info().
			Int(log.FieldShowID, best.ShowID).
			Float64("score", best.Score).
			Msg("best candidate below auto-link bar, left for review")
		return 0, append(warnings,
			fmt.Sprintf("unlinked: best candidate show %d scored %.2f", best.ShowID, best.Score))
	}

	if p.linker != nil {
		err := p.linker.Link(ctx, job.ID, best.ShowID, best.Title, int(result.Duration))
		if kind, ok := faults.KindOf(err); ok && kind == faults.LinkConflict {
			return best.ShowID, append(warnings, err.Error())
		}
		if err != nil {
			return 0, append(warnings, fmt.Sprintf("link failed: %v", err))
		}
	}
	logger.Info().
		Int(log.FieldShowID, best.ShowID).
		Float64("score", best.Score).
		Msg("recording auto-linked")
	return best.ShowID, warnings
}

// enrich attaches the sidecar to the show's newest VOD when one exists.
func (p *Pool) enrich(ctx context.Context, showID int, sccPath string, result *caption.Result, warnings []string) []string {
	logger := log.WithComponentFromContext(ctx, "worker")

	vods, err := p.vods.GetVODs(ctx, showID)
	if err != nil {
		return append(warnings, fmt.Sprintf("vod lookup failed for show %d: %v", showID, err))
	}
	if len(vods) == 0 {
		logger.Debug().Int(log.FieldShowID, showID).Msg("show has no vod, enrichment skipped")
		return warnings
	}
	vod := vods[0]
	for _, v := range vods[1:] {
		if v.ID > vod.ID {
			vod = v
		}
	}

	enrichWarnings, err := p.enricher.AttachSidecar(ctx, vod.ID, sccPath, result)
	warnings = append(warnings, enrichWarnings...)
	if err != nil {
		return append(warnings, fmt.Sprintf("caption upload failed for vod %d: %v", vod.ID, err))
	}
	logger.Info().Int(log.FieldVODID, vod.ID).Msg("vod enriched")
	return warnings
}

// checkpoint is the cooperative control point between stages: it observes
// cancel and pause requests and records a heartbeat.
func (p *Pool) checkpoint(ctx context.Context, workerID string, job *queue.Job, progress int, stage string) error {
	if p.mgr.CancelRequested(job.ID) {
		if err := p.mgr.AckCancel(ctx, job.ID); err != nil {
			return err
		}
		return errCancelled
	}
	if p.mgr.PauseRequested(job.ID) {
		if err := p.mgr.MarkPaused(ctx, job.ID, stage); err != nil {
			return err
		}
		return errParked
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	job.Stage = stage
	return p.mgr.Heartbeat(ctx, job.ID, workerID, progress, stage)
}
