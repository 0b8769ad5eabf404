// SPDX-License-Identifier: MIT

// Package caption defines the transcription boundary. The pipeline invokes a
// speech-to-text backend through the narrow Transcriber interface; the backend
// itself (model runtime, GPU selection) lives behind it.
package caption

import (
	"context"
	"strings"
	"unicode"
)

// Segment is one timed span of recognized speech. Start and End are seconds
// from the beginning of the media; Start <= End and segments are sorted and
// non-overlapping.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the output of a one-shot transcription.
type Result struct {
	Segments []Segment `json:"segments"`
	Duration float64   `json:"duration"`
	Language string    `json:"language"`
	Model    string    `json:"model"`
}

// Options tune a single transcription call.
type Options struct {
	Language    string
	ComputeHint string
	BatchHint   int
}

// Transcriber produces a transcript for a local media file.
type Transcriber interface {
	Transcribe(ctx context.Context, path string, opts Options) (*Result, error)
}

// CleanText strips control characters and collapses whitespace, enforcing the
// plain-UTF-8 contract on segment text.
func CleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		if unicode.IsControl(r) {
			r = ' '
		}
		if unicode.IsSpace(r) {
			if lastSpace {
				continue
			}
			lastSpace = true
			b.WriteRune(' ')
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Normalize sorts out common backend sloppiness: clamps negative times, drops
// empty segments, enforces ordering.
func Normalize(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	var prevEnd float64
	for _, s := range segments {
		s.Text = CleanText(s.Text)
		if s.Text == "" {
			continue
		}
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End < s.Start {
			s.End = s.Start
		}
		if s.Start < prevEnd {
			s.Start = prevEnd
		}
		if s.End < s.Start {
			s.End = s.Start
		}
		prevEnd = s.End
		out = append(out, s)
	}
	return out
}
