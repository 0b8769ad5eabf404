// SPDX-License-Identifier: MIT

package match

import (
	"context"
	"sort"
	"time"

	"github.com/ctvcoop/archivist/internal/cablecast"
	"github.com/ctvcoop/archivist/internal/cache"
	"github.com/ctvcoop/archivist/internal/log"
	"golang.org/x/sync/singleflight"
)

const (
	showCacheTTL = 5 * time.Minute
	showCacheKey = "shows"
)

// ShowSource supplies the upstream show list. *cablecast.Client satisfies it.
type ShowSource interface {
	GetShows(ctx context.Context, locationID int) ([]cablecast.Show, error)
}

// Match is a ranked candidate for a recording.
type Match struct {
	ShowID  int     `json:"show_id"`
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
	Signals Signals `json:"signals"`
}

// AutoLinkable reports whether the match clears the unattended-link bar.
func (m *Match) AutoLinkable() bool { return m != nil && m.Score >= AutoLinkThreshold }

// Matcher scores recordings against the upstream show list, fetched through a
// short-TTL cache so sweep bursts do not hammer upstream.
type Matcher struct {
	source     ShowSource
	cache      cache.Cache
	locationID int
	group      singleflight.Group
}

// New builds a Matcher. locationID scopes the show list; 0 uses the source's
// configured default.
func New(source ShowSource, locationID int) *Matcher {
	return &Matcher{
		source:     source,
		cache:      cache.NewMemoryCache(showCacheTTL),
		locationID: locationID,
	}
}

func (m *Matcher) shows(ctx context.Context) ([]cablecast.Show, error) {
	if v, ok := m.cache.Get(showCacheKey); ok {
		return v.([]cablecast.Show), nil
	}
	v, err, _ := m.group.Do(showCacheKey, func() (any, error) {
		shows, err := m.source.GetShows(ctx, m.locationID)
		if err != nil {
			return nil, err
		}
		m.cache.Set(showCacheKey, shows, showCacheTTL)
		return shows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]cablecast.Show), nil
}

// InvalidateCache drops the cached show list, forcing the next call to fetch.
func (m *Matcher) InvalidateCache() { m.cache.Delete(showCacheKey) }

// BestMatch returns the top candidate above the suggestion threshold, or nil
// when nothing plausible matches.
func (m *Matcher) BestMatch(ctx context.Context, videoPath string, durationS int) (*Match, error) {
	top, err := m.Suggest(ctx, videoPath, durationS, 1)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, nil
	}
	return &top[0], nil
}

// Suggest returns up to k candidates scoring at or above the suggestion
// threshold, best first, with per-signal rationale.
func (m *Matcher) Suggest(ctx context.Context, videoPath string, durationS, k int) ([]Match, error) {
	shows, err := m.shows(ctx)
	if err != nil {
		return nil, err
	}
	f := ExtractFeatures(videoPath, durationS)

	type scored struct {
		show    cablecast.Show
		signals Signals
		total   float64
	}
	candidates := make([]scored, 0, len(shows))
	for _, show := range shows {
		sig := scoreShow(f, show)
		total := sig.total()
		if total < SuggestThreshold {
			continue
		}
		candidates = append(candidates, scored{show: show, signals: sig, total: total})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return better(candidates[i].total, candidates[i].show, candidates[j].total, candidates[j].show)
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Match{
			ShowID:  c.show.ID,
			Title:   c.show.Title,
			Score:   c.total,
			Signals: c.signals,
		})
	}
	if len(out) > 0 {
		clog := log.WithComponent("match")
		clog.Debug().
			Str(log.FieldPath, videoPath).
			Int(log.FieldShowID, out[0].ShowID).
			Float64("score", out[0].Score).
			Msg("ranked show candidates")
	}
	return out, nil
}
