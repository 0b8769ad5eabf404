// SPDX-License-Identifier: MIT

package match

import (
	"math"
	"strings"

	"github.com/ctvcoop/archivist/internal/cablecast"
)

// Fixed signal weights. The final score is their sum, clamped to [0, 1].
const (
	WeightDate        = 0.40
	WeightTitle       = 0.35
	WeightDuration    = 0.15
	WeightDescription = 0.10

	// AutoLinkThreshold is the minimum score for unattended linking.
	AutoLinkThreshold = 0.70
	// SuggestThreshold is the minimum score to surface as a suggestion.
	SuggestThreshold = 0.10
)

// Signals is the per-signal score breakdown surfaced with suggestions.
type Signals struct {
	Date        float64 `json:"date"`
	Title       float64 `json:"title"`
	Duration    float64 `json:"duration"`
	Description float64 `json:"description"`
}

func (s Signals) total() float64 {
	return math.Min(s.Date+s.Title+s.Duration+s.Description, 1.0)
}

func scoreShow(f Features, show cablecast.Show) Signals {
	var s Signals

	if showDate := show.Date(); !f.Date.IsZero() && !showDate.IsZero() {
		days := math.Abs(showDate.Sub(f.Date).Hours() / 24)
		switch {
		case days == 0:
			s.Date = WeightDate
		case days <= 1:
			s.Date = 0.30
		case days <= 7:
			s.Date = 0.10
		}
	}

	title := Normalize(f.Title)
	showTitle := Normalize(show.Title)
	if title != "" && showTitle != "" {
		s.Title = sequenceRatio(title, showTitle) * WeightTitle
	}

	if f.DurationS > 0 && show.Length > 0 {
		delta := f.DurationS - show.Length
		if delta < 0 {
			delta = -delta
		}
		switch {
		case delta < 30:
			s.Duration = WeightDuration
		case delta < 120:
			s.Duration = 0.10
		case delta < 300:
			s.Duration = 0.05
		}
	}

	if title != "" && show.Description != "" &&
		strings.Contains(Normalize(show.Description), title) {
		s.Description = WeightDescription
	}
	return s
}

// sequenceRatio is 2*LCS(a,b) / (len(a)+len(b)) over runes, the classic
// sequence-matcher similarity in [0, 1].
func sequenceRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

// better orders candidates: higher score first, then more recent show date,
// then lower upstream id.
func better(aScore float64, a cablecast.Show, bScore float64, b cablecast.Show) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	ad, bd := a.Date(), b.Date()
	if !ad.Equal(bd) {
		return ad.After(bd)
	}
	return a.ID < b.ID
}
