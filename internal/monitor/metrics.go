// SPDX-License-Identifier: MIT

// Package monitor exposes operational truth: best-effort counters, Prometheus
// metrics and aggregate health probes.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SweepEvents counts scanner outcomes per sweep, labeled by event:
	// scanned, enqueued, skipped_captioned, skipped_already_queued.
	SweepEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_sweep_events_total",
		Help: "Scanner sweep outcomes by event type.",
	}, []string{"event"})

	// CityEnqueued counts enqueued caption jobs per city.
	CityEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_city_enqueued_total",
		Help: "Caption jobs enqueued per city.",
	}, []string{"city"})

	// QueueDepth tracks jobs per state.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "archivist_queue_depth",
		Help: "Jobs currently in each queue state.",
	}, []string{"state"})

	// JobDuration observes started-to-finished caption job latency.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "archivist_job_duration_seconds",
		Help:    "Caption job processing duration.",
		Buckets: prometheus.ExponentialBuckets(30, 2, 10),
	})

	// UpstreamRequests counts upstream call results by outcome.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_upstream_requests_total",
		Help: "Upstream platform requests by outcome.",
	}, []string{"outcome"})

	// DeviceActions counts HELO control calls by action and outcome.
	DeviceActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_helo_actions_total",
		Help: "HELO device control actions by action and outcome.",
	}, []string{"action", "outcome"})
)
