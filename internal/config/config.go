// SPDX-License-Identifier: MIT

// Package config loads archivist configuration from the environment.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config is the complete runtime configuration. It is assembled once in main
// and passed explicitly to components; there is no global config state.
type Config struct {
	// Flex servers
	FlexServers     []FlexServer
	FlexServersFile string
	ScanLimit       int
	MinVideoBytes   int64

	// Caption model
	CaptionBin   string
	CaptionModel string
	UseGPU       bool
	ComputeHint  string
	BatchHint    int
	Language     string
	OutputDir    string // empty: write next to the video

	// Upstream broadcast platform
	UpstreamBaseURL    string
	UpstreamUser       string
	UpstreamPassword   string
	UpstreamToken      string
	UpstreamLocationID int
	UpstreamTimeout    time.Duration
	UpstreamMaxRetries int
	UpstreamRetryBase  time.Duration

	// HELO devices
	HeloDevices         []HeloDevice
	HeloDevicesFile     string
	HeloPreroll         time.Duration
	HeloLookahead       time.Duration
	HeloSyncInterval    time.Duration
	HeloRuntimeTriggers bool
	HeloDeviceTimeout   time.Duration

	// Seen-set and counters
	SeenStoreURL   string
	SeenTTL        time.Duration
	LocalStatePath string

	// Scheduler
	SweepInterval    time.Duration
	DailyAnchorLocal string // "HH:MM" wall time
	DailyAnchorZone  string // IANA zone, default America/Chicago
	AuditInterval    time.Duration

	// Job queue / workers
	WorkerCount  int
	JobMaxRetry  int
	JobRetryBase time.Duration
	JobRetryCap  time.Duration
	JobDBPath    string

	// Link store
	LinkDBPath string

	// Ops surface
	OpsListenAddr string

	// Telemetry
	OTELEnabled  bool
	OTELEndpoint string
	OTELExporter string
}

// Load assembles the configuration from environment variables, applying the
// documented defaults.
func Load() (*Config, error) {
	cfg := &Config{
		FlexServersFile: ParseString("FLEX_SERVERS_FILE", ""),
		ScanLimit:       ParseInt("FLEX_SCAN_LIMIT", 50),
		MinVideoBytes:   int64(ParseInt("FLEX_MIN_VIDEO_BYTES", 1<<20)),

		CaptionBin:   ParseString("CAPTION_BIN", "whisper-ctl"),
		CaptionModel: ParseString("CAPTION_MODEL", "medium"),
		UseGPU:       ParseBool("USE_GPU", false),
		ComputeHint:  ParseString("COMPUTE_HINT", "int8"),
		BatchHint:    ParseInt("BATCH_HINT", 8),
		Language:     ParseString("LANGUAGE", "en"),
		OutputDir:    ParseString("OUTPUT_DIR", ""),

		UpstreamBaseURL:    ParseString("UPSTREAM_BASE_URL", ""),
		UpstreamUser:       ParseString("UPSTREAM_USER", ""),
		UpstreamPassword:   ParseString("UPSTREAM_PASSWORD", ""),
		UpstreamToken:      ParseString("UPSTREAM_TOKEN", ""),
		UpstreamLocationID: ParseInt("UPSTREAM_LOCATION_ID", 0),
		UpstreamTimeout:    ParseSeconds("UPSTREAM_TIMEOUT_S", 30*time.Second),
		UpstreamMaxRetries: ParseInt("UPSTREAM_MAX_RETRIES", 3),
		UpstreamRetryBase:  ParseSeconds("UPSTREAM_RETRY_BASE_S", time.Second),

		HeloDevicesFile:     ParseString("HELO_DEVICES_FILE", ""),
		HeloPreroll:         ParseSeconds("HELO_PREROLL_S", 60*time.Second),
		HeloLookahead:       ParseMinutes("HELO_LOOKAHEAD_MIN", 120*time.Minute),
		HeloSyncInterval:    ParseMinutes("HELO_SYNC_INTERVAL_MIN", 15*time.Minute),
		HeloRuntimeTriggers: ParseBool("HELO_ENABLE_RUNTIME_TRIGGERS", true),
		HeloDeviceTimeout:   ParseSeconds("HELO_DEVICE_TIMEOUT_S", 10*time.Second),

		SeenStoreURL:   ParseString("SEEN_STORE_URL", "redis://localhost:6379/0"),
		SeenTTL:        ParseSeconds("SEEN_STORE_TTL_S", 7*24*3600*time.Second),
		LocalStatePath: ParseString("LOCAL_STATE_PATH", ".state/autoprioritize_direct.json"),

		SweepInterval:    ParseSeconds("SCHEDULER_SWEEP_INTERVAL_S", 5*time.Minute),
		DailyAnchorLocal: ParseString("DAILY_ANCHOR_LOCAL_TIME", "23:00"),
		DailyAnchorZone:  ParseString("DAILY_ANCHOR_TZ", "America/Chicago"),
		AuditInterval:    ParseSeconds("AUDIT_INTERVAL_S", 24*3600*time.Second),

		WorkerCount:  ParseInt("WORKER_COUNT", defaultWorkerCount()),
		JobMaxRetry:  ParseInt("JOB_MAX_RETRIES", 3),
		JobRetryBase: ParseSeconds("JOB_RETRY_BASE_S", 60*time.Second),
		JobRetryCap:  ParseSeconds("JOB_RETRY_CAP_S", time.Hour),
		JobDBPath:    ParseString("JOB_DB_PATH", ".state/jobs"),

		LinkDBPath: ParseString("LINK_DB_PATH", ".state/links.db"),

		OpsListenAddr: ParseString("OPS_LISTEN_ADDR", "127.0.0.1:8085"),

		OTELEnabled:  ParseBool("OTEL_ENABLED", false),
		OTELEndpoint: ParseString("OTEL_ENDPOINT", "localhost:4317"),
		OTELExporter: ParseString("OTEL_EXPORTER", "grpc"),
	}

	servers, err := LoadFlexServers(cfg.FlexServersFile)
	if err != nil {
		return nil, err
	}
	cfg.FlexServers = servers

	devices, err := LoadHeloDevices(cfg.HeloDevicesFile)
	if err != nil {
		return nil, err
	}
	cfg.HeloDevices = devices

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be >= 1, got %d", c.WorkerCount)
	}
	if c.JobRetryBase <= 0 || c.JobRetryCap < c.JobRetryBase {
		return fmt.Errorf("job retry window invalid: base=%s cap=%s", c.JobRetryBase, c.JobRetryCap)
	}
	if _, err := parseAnchor(c.DailyAnchorLocal); err != nil {
		return fmt.Errorf("DAILY_ANCHOR_LOCAL_TIME: %w", err)
	}
	return validateFlexServers(c.FlexServers)
}

// AnchorClock returns the daily anchor as hour and minute.
func (c *Config) AnchorClock() (hour, minute int) {
	hm, _ := parseAnchor(c.DailyAnchorLocal)
	return hm[0], hm[1]
}

func parseAnchor(s string) ([2]int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return [2]int{}, fmt.Errorf("want HH:MM, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return [2]int{}, fmt.Errorf("out of range: %q", s)
	}
	return [2]int{h, m}, nil
}

// defaultWorkerCount follows the half-the-cores rule with a floor of one.
func defaultWorkerCount() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}
