// SPDX-License-Identifier: MIT

// Package scc encodes timed transcript segments into Scenarist Closed Caption
// v1.0 files and parses them back. The byte layout matches what the Cablecast
// ingest accepts: SMPTE 30fps timecodes with a ";" frame separator, a fixed
// pop-on control preamble per record and printable-ASCII character codes.
package scc

import (
	"fmt"
	"math"
	"strings"

	"github.com/ctvcoop/archivist/internal/caption"
	"github.com/google/renameio/v2"
)

// Header is the literal first line of every SCC v1.0 file.
const Header = "Scenarist_SCC V1.0"

const (
	// prefix: resume caption loading, preamble address codes, doubled per 608 convention.
	recordPrefix = "9420 9420 94ae 94ae 9452 9452 97a2 97a2"
	// suffix: end of caption + display, padded.
	recordSuffix = "9420 9420 942c 942c 8080 8080"
)

// Encode renders segments as a complete SCC payload. Encoding is
// deterministic: the same segments always yield byte-identical output.
func Encode(segments []caption.Segment) []byte {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteString("\n\n")

	for _, seg := range segments {
		b.WriteString(Timecode(seg.Start))
		b.WriteByte('\t')
		b.WriteString(recordPrefix)
		if hex := encodeText(seg.Text); hex != "" {
			b.WriteByte(' ')
			b.WriteString(hex)
		}
		b.WriteByte(' ')
		b.WriteString(recordSuffix)
		b.WriteString("\n\n")
	}

	return []byte(b.String())
}

// WriteFile encodes segments and publishes the file atomically: readers never
// observe a partially written caption.
func WriteFile(path string, segments []caption.Segment) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending scc file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(Encode(segments)); err != nil {
		return fmt.Errorf("write scc data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace scc file: %w", err)
	}
	return nil
}

// Timecode renders seconds as SMPTE HH:MM:SS;FF at 30fps. The frame count is
// the rounded fractional remainder; a remainder that rounds to 30 carries into
// the next full second.
func Timecode(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	whole := int(math.Floor(seconds))
	frames := int(math.Round((seconds - math.Floor(seconds)) * 30))
	if frames >= 30 {
		whole++
		frames = 0
	}

	h := whole / 3600
	m := (whole % 3600) / 60
	s := whole % 60
	return fmt.Sprintf("%02d:%02d:%02d;%02d", h, m, s, frames)
}

// encodeText maps each rune to a two-hex-digit printable-ASCII code. Anything
// outside the mapping encodes as a space (0x20).
func encodeText(text string) string {
	codes := make([]string, 0, len(text))
	for _, r := range text {
		b := byte(0x20)
		if r >= 0x20 && r <= 0x7e {
			b = byte(r)
		}
		codes = append(codes, fmt.Sprintf("%02x", b))
	}
	return strings.Join(codes, " ")
}
