// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"strconv"

	"github.com/ctvcoop/archivist/internal/log"
	"github.com/redis/go-redis/v9"
)

// Counter names emitted by scheduler sweeps.
const (
	CounterScanned          = "scanned_total"
	CounterEnqueued         = "enqueued_total"
	CounterSkippedCaptioned = "skipped_captioned_total"
	CounterSkippedQueued    = "skipped_already_queued_total"

	cityEnqueuedHashKey = "archivist:counters:city_enqueued_total"
	counterKeyPrefix    = "archivist:counters:"
)

// Counters persists sweep counters in Redis and mirrors them to Prometheus.
// Emission is best-effort: a down Redis never propagates an error.
type Counters struct {
	rdb *redis.Client
}

// NewCounters builds a counter sink. rdb may be nil; counters then exist only
// in Prometheus.
func NewCounters(rdb *redis.Client) *Counters {
	return &Counters{rdb: rdb}
}

// Add increments a named sweep counter by n.
func (c *Counters) Add(ctx context.Context, name string, n int64) {
	if n == 0 {
		return
	}
	SweepEvents.WithLabelValues(counterEvent(name)).Add(float64(n))
	if c.rdb == nil {
		return
	}
	if err := c.rdb.IncrBy(ctx, counterKeyPrefix+name, n).Err(); err != nil {
		clog := log.WithComponent("monitor")
		clog.Debug().Err(err).Str("counter", name).Msg("counter emission failed")
	}
}

// AddCity increments the per-city enqueue hash by n.
func (c *Counters) AddCity(ctx context.Context, city string, n int64) {
	if n == 0 {
		return
	}
	CityEnqueued.WithLabelValues(city).Add(float64(n))
	if c.rdb == nil {
		return
	}
	if err := c.rdb.HIncrBy(ctx, cityEnqueuedHashKey, city, n).Err(); err != nil {
		clog := log.WithComponent("monitor")
		clog.Debug().Err(err).Str(log.FieldCity, city).Msg("counter emission failed")
	}
}

// Snapshot reads the persisted counters; missing or unreachable values come
// back zero.
func (c *Counters) Snapshot(ctx context.Context) (totals map[string]int64, byCity map[string]int64) {
	totals = map[string]int64{}
	byCity = map[string]int64{}
	if c.rdb == nil {
		return totals, byCity
	}
	for _, name := range []string{CounterScanned, CounterEnqueued, CounterSkippedCaptioned, CounterSkippedQueued} {
		v, err := c.rdb.Get(ctx, counterKeyPrefix+name).Result()
		if err != nil {
			continue
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			totals[name] = n
		}
	}
	fields, err := c.rdb.HGetAll(ctx, cityEnqueuedHashKey).Result()
	if err != nil {
		return totals, byCity
	}
	for city, v := range fields {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			byCity[city] = n
		}
	}
	return totals, byCity
}

func counterEvent(name string) string {
	switch name {
	case CounterScanned:
		return "scanned"
	case CounterEnqueued:
		return "enqueued"
	case CounterSkippedCaptioned:
		return "skipped_captioned"
	case CounterSkippedQueued:
		return "skipped_already_queued"
	default:
		return name
	}
}
