// SPDX-License-Identifier: MIT

// archivist is the cooperative's caption pipeline daemon. Run without
// arguments it sweeps, transcribes and enriches continuously; the sweep,
// audit and healthcheck subcommands run one pass and exit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ctvcoop/archivist/internal/audit"
	"github.com/ctvcoop/archivist/internal/cablecast"
	"github.com/ctvcoop/archivist/internal/caption"
	"github.com/ctvcoop/archivist/internal/config"
	"github.com/ctvcoop/archivist/internal/flex"
	"github.com/ctvcoop/archivist/internal/helo"
	"github.com/ctvcoop/archivist/internal/log"
	"github.com/ctvcoop/archivist/internal/match"
	"github.com/ctvcoop/archivist/internal/monitor"
	"github.com/ctvcoop/archivist/internal/opsserver"
	"github.com/ctvcoop/archivist/internal/queue"
	"github.com/ctvcoop/archivist/internal/sched"
	"github.com/ctvcoop/archivist/internal/seen"
	"github.com/ctvcoop/archivist/internal/store"
	"github.com/ctvcoop/archivist/internal/telemetry"
	"github.com/ctvcoop/archivist/internal/vodenrich"
	"github.com/ctvcoop/archivist/internal/worker"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const watcherDebounce = 30 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "sweep":
			os.Exit(runSweep())
		case "audit":
			os.Exit(runAudit())
		case "healthcheck":
			os.Exit(runHealthcheck())
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("archivist %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return
	}

	os.Exit(runDaemon())
}

func runDaemon() int {
	log.Configure(log.Config{Service: "archivist"})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("configuration invalid")
		return 2
	}
	logger.Info().
		Str("version", version).
		Int("flex_servers", len(cfg.FlexServers)).
		Int("workers", cfg.WorkerCount).
		Msg("archivist starting")

	tracer, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTELEnabled,
		ServiceName:    "archivist",
		ServiceVersion: version,
		ExporterType:   cfg.OTELExporter,
		Endpoint:       cfg.OTELEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		logger.Error().Err(err).Msg("telemetry init failed")
		return 2
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return 2
	}
	defer app.close()

	recovered, err := app.queue.RecoverOrphans(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("orphan recovery failed")
		return 2
	}
	if recovered > 0 {
		logger.Info().Int("recovered", recovered).Msg("requeued jobs from previous run")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.scheduler.Run(gctx) })
	g.Go(func() error { return app.pool.Run(gctx) })
	g.Go(func() error { return app.ops.Start(gctx) })
	g.Go(func() error {
		app.watcher.Run(gctx)
		return nil
	})
	g.Go(func() error { return maintenance(gctx, app) })

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		return 1
	}
	logger.Info().Msg("archivist stopped")
	return 0
}

// maintenance owns the housekeeping nobody else ticks: stale-claim recovery,
// terminal job eviction and local seen-state cleanup.
func maintenance(ctx context.Context, app *app) error {
	logger := log.WithComponent("daemon")

	stale := time.NewTicker(time.Minute)
	defer stale.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stale.C:
			if n, err := app.queue.RequeueStale(ctx); err != nil {
				logger.Error().Err(err).Msg("stale claim recovery failed")
			} else if n > 0 {
				logger.Warn().Int("requeued", n).Msg("recovered stale claims")
			}
		case <-cleanup.C:
			if _, err := app.queue.Cleanup(ctx, 14*24*time.Hour); err != nil {
				logger.Error().Err(err).Msg("job cleanup failed")
			}
			app.seen.PurgeExpired()
		}
	}
}

// app is the wired object graph of one archivist process.
type app struct {
	cfg      *config.Config
	rdb      *redis.Client
	seen     *seen.Store
	scanner  *flex.Scanner
	watcher  *flex.Watcher
	jobStore *queue.BadgerStore
	queue    *queue.Manager
	links    *store.Store
	upstream *cablecast.Client // nil when no upstream is configured
	counters *monitor.Counters
	sweeper  *sched.Sweeper

	scheduler *sched.Scheduler
	pool      *worker.Pool
	health    *monitor.Health
	ops       *opsserver.Server
}

func (a *app) close() {
	if a.links != nil {
		if err := a.links.Close(); err != nil {
			clog := log.WithComponent("daemon")
			clog.Warn().Err(err).Msg("link store close failed")
		}
	}
	if a.jobStore != nil {
		if err := a.jobStore.Close(); err != nil {
			clog := log.WithComponent("daemon")
			clog.Warn().Err(err).Msg("job store close failed")
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	a.rdb = openRedis(ctx, cfg.SeenStoreURL)
	a.seen = seen.New(a.rdb, cfg.LocalStatePath, cfg.SeenTTL)
	a.counters = monitor.NewCounters(a.rdb)

	a.scanner = flex.NewScanner(cfg.FlexServers)
	a.scanner.ScanLimit = cfg.ScanLimit
	a.scanner.MinSize = cfg.MinVideoBytes
	a.watcher = flex.NewWatcher(mountPaths(cfg.FlexServers), watcherDebounce)

	jobStore, err := queue.OpenBadgerStore(cfg.JobDBPath)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	a.jobStore = jobStore
	a.queue, err = queue.NewManager(ctx, jobStore, queue.Options{
		MaxRetries: cfg.JobMaxRetry,
		RetryBase:  cfg.JobRetryBase,
		RetryCap:   cfg.JobRetryCap,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.links, err = store.Open(cfg.LinkDBPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open link store: %w", err)
	}

	if cfg.UpstreamBaseURL != "" {
		a.upstream = cablecast.New(cablecast.Config{
			BaseURL:    cfg.UpstreamBaseURL,
			Username:   cfg.UpstreamUser,
			Password:   cfg.UpstreamPassword,
			Token:      cfg.UpstreamToken,
			LocationID: cfg.UpstreamLocationID,
			Timeout:    cfg.UpstreamTimeout,
			MaxRetries: cfg.UpstreamMaxRetries,
			RetryBase:  cfg.UpstreamRetryBase,
		})
	}

	a.sweeper = sched.NewSweeper(a.scanner, a.seen, a.queue, a.counters)
	a.pool = buildPool(a, cfg)
	a.scheduler = buildScheduler(ctx, a, cfg)
	a.health = buildHealth(a, cfg)
	a.ops = opsserver.New(cfg.OpsListenAddr, a.queue, a.health, a.counters)
	return a, nil
}

func buildPool(a *app, cfg *config.Config) *worker.Pool {
	transcriber := caption.NewWhisperExec(cfg.CaptionBin, cfg.CaptionModel, cfg.UseGPU)

	var (
		matcher  worker.Matcher
		vods     worker.VODSource
		enricher worker.Enricher
	)
	if a.upstream != nil {
		matcher = match.New(a.upstream, cfg.UpstreamLocationID)
		vods = a.upstream
		enricher = vodenrich.New(a.upstream)
	}
	return worker.NewPool(a.queue, transcriber, matcher, a.links, vods, enricher, worker.Options{
		Workers:  cfg.WorkerCount,
		Language: cfg.Language,
	})
}

func buildScheduler(ctx context.Context, a *app, cfg *config.Config) *sched.Scheduler {
	var heloSched sched.HeloSyncer
	if a.upstream != nil && len(cfg.HeloDevices) > 0 {
		if err := a.links.SyncHeloDevices(ctx, cfg.HeloDevices); err != nil {
			clog := log.WithComponent("daemon")
			clog.Warn().Err(err).Msg("device table sync failed")
		}
		devices := make([]helo.Device, 0, len(cfg.HeloDevices))
		rtmp := make(map[string]string)
		streamKey := make(map[string]string)
		for _, d := range cfg.HeloDevices {
			devices = append(devices, helo.NewClient(d, cfg.HeloDeviceTimeout))
			if d.RTMPURL != "" {
				rtmp[d.City] = d.RTMPURL
				streamKey[d.City] = d.StreamKey
			}
		}
		heloSched = helo.NewScheduler(helo.SchedulerConfig{
			Preroll:        cfg.HeloPreroll,
			Lookahead:      cfg.HeloLookahead,
			EnableTriggers: cfg.HeloRuntimeTriggers,
			ChannelToCity:  channelToCity(cfg),
			Aliases:        cityAliases(cfg.FlexServers),
			RTMPURL:        rtmp,
			StreamKey:      streamKey,
		}, a.upstream, a.links, devices)
	}

	var auditor sched.Auditor
	if a.upstream != nil {
		auditor = audit.New(a.upstream, channelToCity(cfg), a.rdb, nil)
	}

	hour, minute := cfg.AnchorClock()
	return sched.New(a.sweeper, heloSched, auditor, sched.Options{
		SweepInterval: cfg.SweepInterval,
		HeloInterval:  cfg.HeloSyncInterval,
		AuditInterval: cfg.AuditInterval,
		AnchorHour:    hour,
		AnchorMinute:  minute,
		AnchorZone:    anchorZone(cfg.DailyAnchorZone),
		Nudges:        a.watcher.Nudges(),
	})
}

func buildHealth(a *app, cfg *config.Config) *monitor.Health {
	h := monitor.NewHealth(5 * time.Minute)
	h.Register(&monitor.MountsChecker{Servers: cfg.FlexServers})
	h.Register(&monitor.ModelChecker{BinPath: cfg.CaptionBin})
	h.Register(&monitor.RedisChecker{RDB: a.rdb})
	h.Register(&monitor.HeartbeatChecker{
		Last:      func() time.Time { return a.scheduler.LastSweep() },
		Threshold: 2 * cfg.SweepInterval,
	})
	h.Register(&monitor.QueueChecker{Stats: a.queue.Stats})
	if a.upstream != nil {
		h.Register(&monitor.UpstreamChecker{Client: a.upstream})
	}
	return h
}

// channelToCity folds the channel ids of both config tables into one lookup.
func channelToCity(cfg *config.Config) map[int]string {
	out := make(map[int]string)
	for _, srv := range cfg.FlexServers {
		for _, ch := range srv.ChannelIDs {
			out[ch] = srv.ID
		}
	}
	for _, d := range cfg.HeloDevices {
		if d.ChannelID != 0 {
			out[d.ChannelID] = d.City
		}
	}
	return out
}

func cityAliases(servers []config.FlexServer) map[string][]string {
	out := make(map[string][]string, len(servers))
	for _, srv := range servers {
		if len(srv.Aliases) > 0 {
			out[srv.ID] = srv.Aliases
		}
	}
	return out
}

func mountPaths(servers []config.FlexServer) []string {
	out := make([]string, 0, len(servers))
	for _, srv := range servers {
		out = append(out, srv.MountPath)
	}
	return out
}

func anchorZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		clog := log.WithComponent("daemon")
		clog.Warn().Err(err).Str("zone", name).Msg("unknown anchor zone, using UTC")
		return time.UTC
	}
	return loc
}

// openRedis connects best-effort: a dead or misconfigured backend downgrades
// the seen set and counters to their local fallbacks instead of failing boot.
func openRedis(ctx context.Context, url string) *redis.Client {
	logger := log.WithComponent("daemon")
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid redis URL, continuing without")
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup, fallbacks active")
	}
	return client
}

func writeJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
