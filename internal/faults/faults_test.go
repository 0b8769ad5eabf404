// SPDX-License-Identifier: MIT

package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindRetriability(t *testing.T) {
	retriable := []Kind{ModelLoadFailed, TranscribeFailed, UpstreamUnavailable, DeviceUnavailable}
	for _, k := range retriable {
		assert.True(t, k.Retriable(), "kind %s", k)
	}

	terminal := []Kind{InputNotFound, InputUnreadable, EncodeFailed, UpstreamRejected, LinkConflict, StateConflict, Inconclusive}
	for _, k := range terminal {
		assert.False(t, k.Retriable(), "kind %s", k)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(UpstreamUnavailable, cause, "fetch shows")

	assert.ErrorIs(t, err, cause)
	k, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, UpstreamUnavailable, k)
	assert.True(t, IsRetriable(err))
}

func TestKindOfThroughWrapping(t *testing.T) {
	inner := New(InputNotFound, "no such file: %s", "/mnt/flex-1/x.mp4")
	outer := fmt.Errorf("job 42: %w", inner)

	k, ok := KindOf(outer)
	assert.True(t, ok)
	assert.Equal(t, InputNotFound, k)
	assert.False(t, IsRetriable(outer))
}

func TestUnclassifiedError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsRetriable(errors.New("plain")))
}

func TestIsMatchesByKind(t *testing.T) {
	err := Wrap(LinkConflict, nil, "transcription already linked")
	assert.True(t, errors.Is(err, &Fault{Kind: LinkConflict}))
	assert.False(t, errors.Is(err, &Fault{Kind: StateConflict}))
}
