// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ctvcoop/archivist/internal/config"
	"github.com/ctvcoop/archivist/internal/queue"
	"github.com/redis/go-redis/v9"
)

const mountProbeDeadline = 10 * time.Second

// RedisChecker probes the seen-set and counter backend. Optional: the local
// JSON fallback keeps the pipeline working, so failure is degraded only.
type RedisChecker struct {
	RDB *redis.Client
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	if c.RDB == nil {
		return CheckResult{Status: StatusDegraded, Message: "not configured, local fallback active"}
	}
	if err := c.RDB.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// Pinger is the upstream reachability probe surface.
type Pinger interface {
	TestConnection(ctx context.Context) error
}

// UpstreamChecker probes the broadcast platform. Required: without it no
// linking, enrichment or scheduling can happen.
type UpstreamChecker struct {
	Client Pinger
}

func (c *UpstreamChecker) Name() string   { return "upstream" }
func (c *UpstreamChecker) Required() bool { return true }

func (c *UpstreamChecker) Check(ctx context.Context) CheckResult {
	if err := c.Client.TestConnection(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// MountsChecker verifies each flex mount answers a readdir within a deadline.
// WriteProbe additionally round-trips a test file, for deployments running as
// the archive user.
type MountsChecker struct {
	Servers    []config.FlexServer
	WriteProbe bool
}

func (c *MountsChecker) Name() string   { return "flex_mounts" }
func (c *MountsChecker) Required() bool { return true }

func (c *MountsChecker) Check(ctx context.Context) CheckResult {
	bad := 0
	var firstErr string
	for _, srv := range c.Servers {
		if err := probeMount(ctx, srv.MountPath, c.WriteProbe); err != nil {
			bad++
			if firstErr == "" {
				firstErr = fmt.Sprintf("%s: %v", srv.MountPath, err)
			}
		}
	}
	switch {
	case bad == 0:
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d mounts readable", len(c.Servers))}
	case bad < len(c.Servers):
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d of %d mounts failing", bad, len(c.Servers)),
			Error:   firstErr,
		}
	default:
		return CheckResult{Status: StatusDegraded, Message: "all mounts failing", Error: firstErr}
	}
}

// probeMount bounds the readdir so a hung NFS mount cannot stall the probe.
func probeMount(ctx context.Context, path string, writeProbe bool) error {
	done := make(chan error, 1)
	go func() {
		_, err := os.ReadDir(path)
		if err == nil && writeProbe {
			probe := filepath.Join(path, ".archivist_probe")
			if err = os.WriteFile(probe, []byte("ok"), 0o644); err == nil {
				err = os.Remove(probe)
			}
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(mountProbeDeadline):
		return fmt.Errorf("readdir exceeded %s", mountProbeDeadline)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ModelChecker verifies the caption backend binary is resolvable.
type ModelChecker struct {
	BinPath string
}

func (c *ModelChecker) Name() string   { return "caption_model" }
func (c *ModelChecker) Required() bool { return true }

func (c *ModelChecker) Check(context.Context) CheckResult {
	if _, err := exec.LookPath(c.BinPath); err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// HeartbeatChecker verifies the scheduler ticked recently.
type HeartbeatChecker struct {
	Last      func() time.Time
	Threshold time.Duration
}

func (c *HeartbeatChecker) Name() string { return "scheduler" }

func (c *HeartbeatChecker) Check(context.Context) CheckResult {
	last := c.Last()
	if last.IsZero() {
		return CheckResult{Status: StatusDegraded, Message: "no sweep completed yet"}
	}
	age := time.Since(last)
	if age > c.Threshold {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("last sweep %s ago, threshold %s", age.Round(time.Second), c.Threshold),
		}
	}
	return CheckResult{Status: StatusHealthy}
}

// QueueChecker reports depth by state and flags a backed-up queue. It also
// refreshes the queue depth gauges.
type QueueChecker struct {
	Stats     func(ctx context.Context) (queue.Stats, error)
	MaxQueued int
}

func (c *QueueChecker) Name() string { return "queue" }

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	stats, err := c.Stats(ctx)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	QueueDepth.WithLabelValues(string(queue.StateQueued)).Set(float64(stats.Queued))
	QueueDepth.WithLabelValues(string(queue.StateRunning)).Set(float64(stats.Running))
	QueueDepth.WithLabelValues(string(queue.StatePaused)).Set(float64(stats.Paused))
	QueueDepth.WithLabelValues(string(queue.StateFailed)).Set(float64(stats.Failed))

	msg := fmt.Sprintf("queued=%d running=%d paused=%d failed=%d",
		stats.Queued, stats.Running, stats.Paused, stats.Failed)
	if c.MaxQueued > 0 && stats.Queued > c.MaxQueued {
		return CheckResult{Status: StatusDegraded, Message: msg + " (backlog over threshold)"}
	}
	return CheckResult{Status: StatusHealthy, Message: msg}
}
