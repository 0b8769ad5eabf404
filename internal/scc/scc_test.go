// SPDX-License-Identifier: MIT

package scc

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctvcoop/archivist/internal/caption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHeader(t *testing.T) {
	out := string(Encode(nil))
	assert.True(t, strings.HasPrefix(out, "Scenarist_SCC V1.0\n\n"))
}

func TestEncodeRecordLayout(t *testing.T) {
	segs := []caption.Segment{{Start: 1.5, End: 3.0, Text: "Hi"}}
	out := string(Encode(segs))

	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	record := lines[2]

	tc, payload, found := strings.Cut(record, "\t")
	require.True(t, found)
	assert.Equal(t, "00:00:01;15", tc)
	assert.True(t, strings.HasPrefix(payload, "9420 9420 94ae 94ae 9452 9452 97a2 97a2"))
	assert.True(t, strings.HasSuffix(payload, "9420 9420 942c 942c 8080 8080"))
	assert.Contains(t, payload, "48 69") // "Hi"
}

func TestEncodeDeterministic(t *testing.T) {
	segs := []caption.Segment{
		{Start: 0, End: 2, Text: "City Council Meeting"},
		{Start: 2.4, End: 5.1, Text: "Roll call."},
	}
	assert.Equal(t, Encode(segs), Encode(segs))
}

func TestEncodeUnknownRunesBecomeSpace(t *testing.T) {
	out := string(Encode([]caption.Segment{{Start: 0, Text: "å"}}))
	assert.Contains(t, out, "\t9420 9420 94ae 94ae 9452 9452 97a2 97a2 20 9420")
}

func TestTimecodeCarry(t *testing.T) {
	// 0.999s rounds to 30 frames and must carry into the next second.
	assert.Equal(t, "00:00:01;00", Timecode(0.999))
	assert.Equal(t, "01:00:00;00", Timecode(3600))
	assert.Equal(t, "00:00:00;00", Timecode(-3))
}

func TestParseTimecodeSeparators(t *testing.T) {
	for _, tc := range []string{"00:01:30;15", "00:01:30,15", "00:01:30.15"} {
		got, err := ParseTimecode(tc)
		require.NoError(t, err)
		assert.InDelta(t, 90.5, got, 1e-9)
	}

	_, err := ParseTimecode("99:99")
	assert.Error(t, err)
	_, err = ParseTimecode("00:00:00;45")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	segs := make([]caption.Segment, 0, 25)
	cursor := 0.0
	for i := 0; i < 25; i++ {
		cursor += rng.Float64() * 10
		segs = append(segs, caption.Segment{
			Start: cursor,
			End:   cursor + 2,
			Text:  "Segment number " + strings.Repeat("x", i%7),
		})
	}

	parsed, err := Parse(Encode(segs))
	require.NoError(t, err)
	require.Len(t, parsed, len(segs))

	for i := range segs {
		// Start times survive within one frame (1/30 s).
		assert.LessOrEqual(t, math.Abs(parsed[i].Start-segs[i].Start), 1.0/30.0+1e-9, "segment %d", i)
		assert.Equal(t, segs[i].Text, parsed[i].Text, "segment %d", i)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2024-01-15 Council.scc")

	segs := []caption.Segment{{Start: 0, End: 1, Text: "Welcome"}}
	require.NoError(t, WriteFile(path, segs))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	parsed, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", parsed[0].Text)
}

func TestParseRejectsMissingHeader(t *testing.T) {
	_, err := Parse([]byte("not an scc file\n"))
	assert.Error(t, err)
	_, err = Parse(nil)
	assert.Error(t, err)
}
