// SPDX-License-Identifier: MIT

// Package vodenrich attaches caption sidecars and derived metadata to
// upstream VODs after a link is decided.
package vodenrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/ctvcoop/archivist/internal/cablecast"
	"github.com/ctvcoop/archivist/internal/caption"
	"github.com/ctvcoop/archivist/internal/log"
)

// UpstreamAPI is the slice of the upstream client enrichment needs.
type UpstreamAPI interface {
	UploadVODCaption(ctx context.Context, vodID int, path string) error
	UpdateVODMetadata(ctx context.Context, vodID int, metadata map[string]any) error
	GetVODChapters(ctx context.Context, vodID int) ([]cablecast.Chapter, error)
	CreateVODChapter(ctx context.Context, ch cablecast.Chapter) (*cablecast.Chapter, error)
	UpdateVODChapter(ctx context.Context, ch cablecast.Chapter) error
	DeleteVODChapter(ctx context.Context, vodID, chapterID int) error
}

// Enricher drives caption attachment. It never touches the filesystem beyond
// reading the SCC the encoder already wrote.
type Enricher struct {
	api UpstreamAPI
}

func New(api UpstreamAPI) *Enricher {
	return &Enricher{api: api}
}

// AttachSidecar uploads the SCC for a VOD and updates its metadata. A failed
// upload is an error; a failed metadata update after a successful upload is a
// warning, returned for the job record, so a later retry can reconcile.
func (e *Enricher) AttachSidecar(ctx context.Context, vodID int, sccPath string, result *caption.Result) ([]string, error) {
	if err := e.api.UploadVODCaption(ctx, vodID, sccPath); err != nil {
		return nil, err
	}
	clog := log.WithComponent("vodenrich")
	clog.Info().
		Int(log.FieldVODID, vodID).
		Str(log.FieldSCCPath, sccPath).
		Msg("caption sidecar uploaded")

	if err := e.api.UpdateVODMetadata(ctx, vodID, BuildMetadata(result)); err != nil {
		warning := fmt.Sprintf("vod %d: sidecar uploaded but metadata update failed: %v", vodID, err)
		clog.Warn().
			Int(log.FieldVODID, vodID).
			Err(err).
			Msg("metadata update failed after upload")
		return []string{warning}, nil
	}
	return nil, nil
}

// BuildMetadata derives the VOD metadata block from a transcription result.
func BuildMetadata(result *caption.Result) map[string]any {
	md := map[string]any{
		"transcription_available": true,
		"accessibility_features":  []string{"captions", "transcript"},
		"content_type":            "transcribed_video",
		"source_system":           "archivist",
	}
	if result == nil {
		return md
	}

	var b strings.Builder
	words := 0
	for _, seg := range result.Segments {
		b.WriteString(seg.Text)
		b.WriteByte(' ')
		words += len(strings.Fields(seg.Text))
	}
	wpm := 0.0
	if result.Duration > 0 {
		wpm = float64(words) / (result.Duration / 60.0)
	}
	md["transcription_metadata"] = map[string]any{
		"segments":    len(result.Segments),
		"duration_s":  result.Duration,
		"words":       words,
		"wpm":         wpm,
		"top_phrases": TopPhrases(b.String(), DefaultTopPhrases),
		"language":    result.Language,
		"model":       result.Model,
	}
	return md
}

// Chapters lists the VOD's chapters upstream.
func (e *Enricher) Chapters(ctx context.Context, vodID int) ([]cablecast.Chapter, error) {
	return e.api.GetVODChapters(ctx, vodID)
}

// AddChapter creates a chapter upstream.
func (e *Enricher) AddChapter(ctx context.Context, ch cablecast.Chapter) (*cablecast.Chapter, error) {
	return e.api.CreateVODChapter(ctx, ch)
}

// UpdateChapter replaces a chapter upstream.
func (e *Enricher) UpdateChapter(ctx context.Context, ch cablecast.Chapter) error {
	return e.api.UpdateVODChapter(ctx, ch)
}

// RemoveChapter deletes a chapter upstream.
func (e *Enricher) RemoveChapter(ctx context.Context, vodID, chapterID int) error {
	return e.api.DeleteVODChapter(ctx, vodID, chapterID)
}
