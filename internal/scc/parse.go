// SPDX-License-Identifier: MIT

package scc

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ctvcoop/archivist/internal/caption"
)

// timecodeRe accepts the encoder's ";" separator plus the "," and "." variants
// seen in files from other toolchains.
var timecodeRe = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})[;,.](\d{2})$`)

// ParseTimecode converts SMPTE HH:MM:SS(;|,|.)FF to seconds at 30fps non-drop.
func ParseTimecode(tc string) (float64, error) {
	m := timecodeRe.FindStringSubmatch(strings.TrimSpace(tc))
	if m == nil {
		return 0, fmt.Errorf("invalid SMPTE timecode %q", tc)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	f, _ := strconv.Atoi(m[4])
	if mi > 59 || s > 59 || f > 29 {
		return 0, fmt.Errorf("SMPTE timecode out of range %q", tc)
	}
	return float64(h*3600+mi*60+s) + float64(f)/30.0, nil
}

// Parse reads an SCC payload back into segments. Segment end times are not
// stored in SCC; each parsed segment ends where the next begins, and the last
// segment gets a zero-length span.
func Parse(data []byte) ([]caption.Segment, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty scc payload")
	}
	if strings.TrimSpace(scanner.Text()) != Header {
		return nil, fmt.Errorf("missing %q header", Header)
	}

	var segments []caption.Segment
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tc, payload, found := strings.Cut(line, "\t")
		if !found {
			// Tolerate space-separated variants.
			tc, payload, found = strings.Cut(line, " ")
			if !found {
				continue
			}
		}
		start, err := ParseTimecode(tc)
		if err != nil {
			return nil, err
		}
		segments = append(segments, caption.Segment{
			Start: start,
			Text:  decodeText(payload),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for i := range segments {
		if i+1 < len(segments) {
			segments[i].End = segments[i+1].Start
		} else {
			segments[i].End = segments[i].Start
		}
	}
	return segments, nil
}

// ParseFile reads and parses an SCC file from disk.
func ParseFile(path string) ([]caption.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// decodeText inverts encodeText: two-hex-digit codes become printable ASCII,
// four-hex-digit control words are skipped.
func decodeText(payload string) string {
	var b strings.Builder
	for _, tok := range strings.Fields(payload) {
		if len(tok) != 2 {
			continue
		}
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			continue
		}
		if v >= 0x20 && v <= 0x7e {
			b.WriteByte(byte(v))
		}
	}
	return b.String()
}
