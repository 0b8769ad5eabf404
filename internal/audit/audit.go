// SPDX-License-Identifier: MIT

// Package audit verifies, once a day, that the most recent VOD of every city
// carries captions, and alerts when one does not.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ctvcoop/archivist/internal/cablecast"
	"github.com/ctvcoop/archivist/internal/log"
	"github.com/redis/go-redis/v9"
)

// Per-city audit outcomes.
const (
	OutcomeCaptioned    = "captioned"
	OutcomeAlerted      = "alerted"
	OutcomeInconclusive = "inconclusive"
	OutcomeNoVOD        = "no_vod"
)

const alertDedupeTTL = 24 * time.Hour

// Alert is the structured payload handed to the alerting boundary.
type Alert struct {
	Level     string    `json:"level"`
	City      string    `json:"city"`
	VODID     int       `json:"vod_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Alerter delivers alerts to the external alerting interface.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to the structured log. The default sink.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, a Alert) error {
	clog := log.WithComponent("audit")
	clog.Error().
		Str(log.FieldCity, a.City).
		Int(log.FieldVODID, a.VODID).
		Time("timestamp", a.Timestamp).
		Msg("latest vod missing captions")
	return nil
}

// UpstreamAPI is the slice of the upstream client the audit needs.
type UpstreamAPI interface {
	GetShows(ctx context.Context, locationID int) ([]cablecast.Show, error)
	GetVODs(ctx context.Context, showID int) ([]cablecast.VOD, error)
	GetVODStatus(ctx context.Context, id int) (*cablecast.VODStatus, error)
}

// CityResult is one city's audit outcome.
type CityResult struct {
	Outcome string `json:"outcome"`
	VODID   int    `json:"vod_id,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Report is one full audit pass.
type Report struct {
	Timestamp time.Time             `json:"timestamp"`
	Cities    map[string]CityResult `json:"cities"`
}

// Auditor runs the daily caption check. Alert deduplication is per
// (city, vod) per day, persisted in Redis when available with an in-memory
// fallback.
type Auditor struct {
	upstream UpstreamAPI
	alerter  Alerter
	rdb      *redis.Client
	// ChannelToCity resolves a show's channel to its city; shows without a
	// resolvable city are ignored.
	channelToCity map[int]string
	clock         func() time.Time

	mu      sync.Mutex
	alerted map[string]string // (city,vod) -> date
}

// New builds an Auditor. rdb and alerter may be nil; nil alerter logs.
func New(upstream UpstreamAPI, channelToCity map[int]string, rdb *redis.Client, alerter Alerter) *Auditor {
	if alerter == nil {
		alerter = LogAlerter{}
	}
	return &Auditor{
		upstream:      upstream,
		alerter:       alerter,
		rdb:           rdb,
		channelToCity: channelToCity,
		clock:         time.Now,
		alerted:       make(map[string]string),
	}
}

// Run audits every city with a resolvable latest show. Call failures make a
// city inconclusive, never a hard failure.
func (a *Auditor) Run(ctx context.Context) Report {
	logger := log.WithComponent("audit")
	report := Report{Timestamp: a.clock(), Cities: make(map[string]CityResult)}

	shows, err := a.upstream.GetShows(ctx, 0)
	if err != nil {
		logger.Warn().Err(err).Msg("show fetch failed, audit inconclusive")
		for _, city := range a.channelToCity {
			report.Cities[city] = CityResult{Outcome: OutcomeInconclusive, Detail: err.Error()}
		}
		return report
	}

	latest := a.latestShowPerCity(shows)
	for city, show := range latest {
		report.Cities[city] = a.auditCity(ctx, city, show)
	}
	for _, city := range a.channelToCity {
		if _, ok := report.Cities[city]; !ok {
			report.Cities[city] = CityResult{Outcome: OutcomeNoVOD, Detail: "no shows for city"}
		}
	}
	return report
}

func (a *Auditor) latestShowPerCity(shows []cablecast.Show) map[string]cablecast.Show {
	latest := make(map[string]cablecast.Show)
	for _, show := range shows {
		city, ok := a.channelToCity[show.ChannelID]
		if !ok {
			continue
		}
		cur, seen := latest[city]
		if !seen || show.Date().After(cur.Date()) ||
			(show.Date().Equal(cur.Date()) && show.ID > cur.ID) {
			latest[city] = show
		}
	}
	return latest
}

func (a *Auditor) auditCity(ctx context.Context, city string, show cablecast.Show) CityResult {
	vods, err := a.upstream.GetVODs(ctx, show.ID)
	if err != nil {
		return CityResult{Outcome: OutcomeInconclusive, Detail: err.Error()}
	}
	if len(vods) == 0 {
		return CityResult{Outcome: OutcomeNoVOD, Detail: fmt.Sprintf("show %d has no vod", show.ID)}
	}
	vod := vods[0]
	for _, v := range vods[1:] {
		if v.ID > vod.ID {
			vod = v
		}
	}

	status, err := a.upstream.GetVODStatus(ctx, vod.ID)
	if err != nil {
		return CityResult{Outcome: OutcomeInconclusive, VODID: vod.ID, Detail: err.Error()}
	}
	if status.CaptionsAvailable {
		return CityResult{Outcome: OutcomeCaptioned, VODID: vod.ID}
	}

	if !a.shouldAlert(ctx, city, vod.ID) {
		return CityResult{Outcome: OutcomeAlerted, VODID: vod.ID, Detail: "already alerted today"}
	}
	alert := Alert{Level: "error", City: city, VODID: vod.ID, Timestamp: a.clock()}
	if err := a.alerter.Alert(ctx, alert); err != nil {
		clog := log.WithComponent("audit")
		clog.Warn().Err(err).Str(log.FieldCity, city).Msg("alert delivery failed")
	}
	return CityResult{Outcome: OutcomeAlerted, VODID: vod.ID}
}

// shouldAlert enforces at most one alert per (city, vod) per day.
func (a *Auditor) shouldAlert(ctx context.Context, city string, vodID int) bool {
	today := a.clock().Format("2006-01-02")
	key := fmt.Sprintf("archivist:audit:alerted:%s:%d", city, vodID)

	if a.rdb != nil {
		ok, err := a.rdb.SetNX(ctx, key, today, alertDedupeTTL).Result()
		if err == nil {
			return ok
		}
		clog := log.WithComponent("audit")
		clog.Debug().Err(err).Msg("alert dedupe via redis failed, using local")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.alerted[key] == today {
		return false
	}
	a.alerted[key] = today
	return true
}
