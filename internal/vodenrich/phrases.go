// SPDX-License-Identifier: MIT

package vodenrich

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultTopPhrases is the number of key phrases attached to VOD metadata.
const DefaultTopPhrases = 10

var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "your": true, "been": true, "were": true, "they": true,
	"their": true, "would": true, "could": true, "should": true, "about": true,
	"there": true, "which": true, "when": true, "what": true, "then": true,
	"them": true, "these": true, "those": true, "than": true, "into": true,
	"just": true, "also": true, "very": true, "because": true, "going": true,
	"think": true, "know": true, "like": true, "want": true, "here": true,
	"okay": true, "yeah": true, "well": true, "right": true, "thank": true,
	"thanks": true, "motion": true, "second": true, "favor": true, "aye": true,
}

var wordRe = regexp.MustCompile(`[a-z']+`)

// TopPhrases returns the k most frequent non-stop-word tokens longer than
// three characters, most frequent first, ties alphabetical.
func TopPhrases(text string, k int) []string {
	if k <= 0 {
		k = DefaultTopPhrases
	}
	counts := make(map[string]int)
	for _, tok := range wordRe.FindAllString(strings.ToLower(text), -1) {
		tok = strings.Trim(tok, "'")
		if len(tok) <= 3 || stopWords[tok] {
			continue
		}
		counts[tok]++
	}

	phrases := make([]string, 0, len(counts))
	for w := range counts {
		phrases = append(phrases, w)
	}
	sort.Slice(phrases, func(i, j int) bool {
		if counts[phrases[i]] != counts[phrases[j]] {
			return counts[phrases[i]] > counts[phrases[j]]
		}
		return phrases[i] < phrases[j]
	})
	if len(phrases) > k {
		phrases = phrases[:k]
	}
	return phrases
}
