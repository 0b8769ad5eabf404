// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"time"

	"github.com/ctvcoop/archivist/internal/audit"
	"github.com/ctvcoop/archivist/internal/cablecast"
	"github.com/ctvcoop/archivist/internal/config"
	"github.com/ctvcoop/archivist/internal/flex"
	"github.com/ctvcoop/archivist/internal/log"
	"github.com/ctvcoop/archivist/internal/monitor"
	"github.com/ctvcoop/archivist/internal/queue"
	"github.com/ctvcoop/archivist/internal/sched"
	"github.com/ctvcoop/archivist/internal/seen"
)

// oneShotTimeout bounds every manual command.
const oneShotTimeout = 10 * time.Minute

func oneShotSetup() (context.Context, context.CancelFunc, *config.Config, int) {
	log.Configure(log.Config{Service: "archivist"})
	cfg, err := config.Load()
	if err != nil {
		clog := log.WithComponent("cli")
		clog.Error().Err(err).Msg("configuration invalid")
		return nil, nil, nil, 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout)
	return ctx, cancel, cfg, 0
}

// runSweep performs one autopriority pass against the live job store and
// prints the result as JSON.
func runSweep() int {
	ctx, cancel, cfg, code := oneShotSetup()
	if code != 0 {
		return code
	}
	defer cancel()
	logger := log.WithComponent("cli")

	rdb := openRedis(ctx, cfg.SeenStoreURL)
	seenStore := seen.New(rdb, cfg.LocalStatePath, cfg.SeenTTL)

	scanner := flex.NewScanner(cfg.FlexServers)
	scanner.ScanLimit = cfg.ScanLimit
	scanner.MinSize = cfg.MinVideoBytes

	jobStore, err := queue.OpenBadgerStore(cfg.JobDBPath)
	if err != nil {
		logger.Error().Err(err).Msg("open job store (is the daemon holding it?)")
		return 1
	}
	defer func() { _ = jobStore.Close() }()
	mgr, err := queue.NewManager(ctx, jobStore, queue.Options{
		MaxRetries: cfg.JobMaxRetry,
		RetryBase:  cfg.JobRetryBase,
		RetryCap:   cfg.JobRetryCap,
	})
	if err != nil {
		logger.Error().Err(err).Msg("queue init failed")
		return 1
	}

	sweeper := sched.NewSweeper(scanner, seenStore, mgr, monitor.NewCounters(rdb))
	result := sweeper.Sweep(ctx)
	writeJSON(result)
	return 0
}

// runAudit checks the latest VOD of every city for captions and prints the
// report. Exit 1 when any city was alerted.
func runAudit() int {
	ctx, cancel, cfg, code := oneShotSetup()
	if code != 0 {
		return code
	}
	defer cancel()
	logger := log.WithComponent("cli")

	if cfg.UpstreamBaseURL == "" {
		logger.Error().Msg("UPSTREAM_BASE_URL not configured, audit needs upstream access")
		return 2
	}
	upstream := cablecast.New(cablecast.Config{
		BaseURL:    cfg.UpstreamBaseURL,
		Username:   cfg.UpstreamUser,
		Password:   cfg.UpstreamPassword,
		Token:      cfg.UpstreamToken,
		LocationID: cfg.UpstreamLocationID,
		Timeout:    cfg.UpstreamTimeout,
		MaxRetries: cfg.UpstreamMaxRetries,
		RetryBase:  cfg.UpstreamRetryBase,
	})
	rdb := openRedis(ctx, cfg.SeenStoreURL)

	report := audit.New(upstream, channelToCity(cfg), rdb, nil).Run(ctx)
	writeJSON(report)

	for _, city := range report.Cities {
		if city.Outcome == audit.OutcomeAlerted {
			return 1
		}
	}
	return 0
}

// runHealthcheck probes the passive dependencies (mounts, model binary,
// redis, upstream) without touching the job store, so it is safe to run next
// to a live daemon. Exit 0 healthy, 1 degraded, 2 critical.
func runHealthcheck() int {
	ctx, cancel, cfg, code := oneShotSetup()
	if code != 0 {
		return code
	}
	defer cancel()

	h := monitor.NewHealth(0)
	h.Register(&monitor.MountsChecker{Servers: cfg.FlexServers})
	h.Register(&monitor.ModelChecker{BinPath: cfg.CaptionBin})
	h.Register(&monitor.RedisChecker{RDB: openRedis(ctx, cfg.SeenStoreURL)})
	if cfg.UpstreamBaseURL != "" {
		h.Register(&monitor.UpstreamChecker{Client: cablecast.New(cablecast.Config{
			BaseURL:  cfg.UpstreamBaseURL,
			Username: cfg.UpstreamUser,
			Password: cfg.UpstreamPassword,
			Token:    cfg.UpstreamToken,
			Timeout:  cfg.UpstreamTimeout,
		})})
	}

	report := h.Evaluate(ctx)
	writeJSON(report)
	switch report.Status {
	case monitor.StatusHealthy:
		return 0
	case monitor.StatusDegraded:
		return 1
	default:
		return 2
	}
}
