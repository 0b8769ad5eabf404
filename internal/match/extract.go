// SPDX-License-Identifier: MIT

// Package match ranks upstream shows as candidates for a recorded video,
// scoring filename date, title similarity, duration proximity and description
// overlap.
package match

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// datePatterns are tried in order; the first candidate that parses to a real
// calendar date wins.
var datePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), "2006-01-02"},
	{regexp.MustCompile(`\d{2}-\d{2}-\d{4}`), "01-02-2006"},
	{regexp.MustCompile(`\d{8}`), "20060102"},
	{regexp.MustCompile(`\d{4}_\d{2}_\d{2}`), "2006_01_02"},
	{regexp.MustCompile(`\d{2}_\d{2}_\d{4}`), "01_02_2006"},
}

var separators = regexp.MustCompile(`[\s_\-.]+`)

var lowerCaser = cases.Lower(language.Und)

// Features are the signals extracted from a video filename.
type Features struct {
	// Title is the filename with extension, date token and separators removed.
	Title string
	// Date is the embedded date, zero when none was found.
	Date time.Time
	// DurationS is the known runtime in seconds, 0 when unknown.
	DurationS int
}

// ExtractFeatures pulls a date and title out of the video path's base name.
func ExtractFeatures(videoPath string, durationS int) Features {
	base := filepath.Base(videoPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	f := Features{DurationS: durationS}
	title := base
	for _, p := range datePatterns {
		token := ""
		for _, cand := range p.re.FindAllString(base, -1) {
			t, err := time.Parse(p.layout, cand)
			if err != nil {
				continue
			}
			f.Date = t
			token = cand
			break
		}
		if token != "" {
			title = strings.Replace(title, token, " ", 1)
			break
		}
	}

	title = separators.ReplaceAllString(title, " ")
	f.Title = strings.TrimSpace(title)
	return f
}

// Normalize folds a string for case-insensitive comparison.
func Normalize(s string) string {
	return lowerCaser.String(norm.NFKC.String(s))
}
