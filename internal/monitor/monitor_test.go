// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ctvcoop/archivist/internal/config"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersBestEffort(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewCounters(rdb)
	ctx := context.Background()

	c.Add(ctx, CounterScanned, 3)
	c.Add(ctx, CounterEnqueued, 1)
	c.Add(ctx, CounterEnqueued, 0) // no-op
	c.AddCity(ctx, "birchwood", 1)
	c.AddCity(ctx, "cedarview", 2)

	totals, byCity := c.Snapshot(ctx)
	assert.Equal(t, int64(3), totals[CounterScanned])
	assert.Equal(t, int64(1), totals[CounterEnqueued])
	assert.Equal(t, int64(1), byCity["birchwood"])
	assert.Equal(t, int64(2), byCity["cedarview"])

	// A dead backend swallows errors and returns empty snapshots.
	mr.Close()
	c.Add(ctx, CounterScanned, 1)
	totals, byCity = c.Snapshot(ctx)
	assert.Empty(t, totals)
	assert.Empty(t, byCity)
}

func TestCountersNilRedis(t *testing.T) {
	c := NewCounters(nil)
	ctx := context.Background()
	c.Add(ctx, CounterScanned, 5)
	c.AddCity(ctx, "birchwood", 1)
	totals, byCity := c.Snapshot(ctx)
	assert.Empty(t, totals)
	assert.Empty(t, byCity)
}

func TestCityCounterMirrorsToPrometheus(t *testing.T) {
	c := NewCounters(nil)
	c.AddCity(context.Background(), "maplecrest", 3)

	var m dto.Metric
	require.NoError(t, CityEnqueued.WithLabelValues("maplecrest").Write(&m))
	assert.GreaterOrEqual(t, m.GetCounter().GetValue(), 3.0)
}

type stubChecker struct {
	name     string
	required bool
	result   CheckResult
}

func (s *stubChecker) Name() string                      { return s.name }
func (s *stubChecker) Required() bool                    { return s.required }
func (s *stubChecker) Check(context.Context) CheckResult { return s.result }

func TestHealthAggregation(t *testing.T) {
	h := NewHealth(time.Minute)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	h.clock = func() time.Time { return now }

	upstream := &stubChecker{name: "upstream", required: true, result: CheckResult{Status: StatusHealthy}}
	redisCheck := &stubChecker{name: "redis", result: CheckResult{Status: StatusHealthy}}
	h.Register(upstream)
	h.Register(redisCheck)

	report := h.Evaluate(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)

	// An optional probe failing degrades but never goes critical.
	redisCheck.result = CheckResult{Status: StatusDegraded, Error: "connection refused"}
	now = now.Add(10 * time.Minute)
	report = h.Evaluate(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	now = now.Add(10 * time.Minute)
	report = h.Evaluate(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)

	// A required probe failing degrades within grace, critical after.
	upstream.result = CheckResult{Status: StatusDegraded, Error: "timeout"}
	report = h.Evaluate(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)

	now = now.Add(2 * time.Minute)
	report = h.Evaluate(context.Background())
	assert.Equal(t, StatusCritical, report.Status)

	// Recovery resets the failure clock.
	upstream.result = CheckResult{Status: StatusHealthy}
	report = h.Evaluate(context.Background())
	assert.Equal(t, StatusDegraded, report.Status, "optional probe still failing")

	upstream.result = CheckResult{Status: StatusDegraded}
	report = h.Evaluate(context.Background())
	assert.Equal(t, StatusDegraded, report.Status, "fresh failure starts a new grace window")
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	c := &RedisChecker{RDB: rdb}
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	mr.Close()
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	nilCheck := &RedisChecker{}
	result := nilCheck.Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Contains(t, result.Message, "fallback")
}

type stubPinger struct{ err error }

func (s *stubPinger) TestConnection(context.Context) error { return s.err }

func TestUpstreamChecker(t *testing.T) {
	c := &UpstreamChecker{Client: &stubPinger{}}
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
	assert.True(t, c.Required())

	c.Client = &stubPinger{err: errors.New("503")}
	result := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "503", result.Error)
}

func TestHeartbeatChecker(t *testing.T) {
	last := time.Now()
	c := &HeartbeatChecker{Last: func() time.Time { return last }, Threshold: time.Minute}
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	last = time.Now().Add(-2 * time.Minute)
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	last = time.Time{}
	result := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Contains(t, result.Message, "no sweep")
}

func TestModelChecker(t *testing.T) {
	c := &ModelChecker{BinPath: "sh"}
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	c.BinPath = "definitely-not-a-real-binary-xyz"
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)
}

func TestMountsChecker(t *testing.T) {
	good := t.TempDir()
	c := &MountsChecker{Servers: testFlexServers(good, "/nonexistent/flex-miss")}

	result := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Contains(t, result.Message, "1 of 2")

	c = &MountsChecker{Servers: testFlexServers(good), WriteProbe: true}
	result = c.Check(context.Background())
	require.Equal(t, StatusHealthy, result.Status)
}

func testFlexServers(mounts ...string) []config.FlexServer {
	out := make([]config.FlexServer, 0, len(mounts))
	for i, m := range mounts {
		out = append(out, config.FlexServer{ID: fmt.Sprintf("flex-%d", i+1), MountPath: m})
	}
	return out
}
