// SPDX-License-Identifier: MIT

// Package faults defines the error taxonomy shared by the caption pipeline.
// Components wrap lower-level errors into a Fault at their boundary; callers
// branch on Kind (or errors.Is against the kind sentinels) instead of matching
// error strings.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and reporting decisions.
type Kind string

const (
	// InputNotFound: the video or caption path is missing. Non-retriable.
	InputNotFound Kind = "input_not_found"
	// InputUnreadable: permission or IO error on the source file. Non-retriable.
	InputUnreadable Kind = "input_unreadable"
	// ModelLoadFailed: the caption backend cannot initialize. Retriable.
	ModelLoadFailed Kind = "model_load_failed"
	// TranscribeFailed: model runtime error. Retriable.
	TranscribeFailed Kind = "transcribe_failed"
	// EncodeFailed: SCC encoding error. Non-retriable.
	EncodeFailed Kind = "encode_failed"
	// UpstreamUnavailable: network error, 5xx or timeout. Retriable.
	UpstreamUnavailable Kind = "upstream_unavailable"
	// UpstreamRejected: 4xx with parsed detail. Non-retriable.
	UpstreamRejected Kind = "upstream_rejected"
	// LinkConflict: the transcription is already linked. Warning, not failure.
	LinkConflict Kind = "link_conflict"
	// DeviceUnavailable: HELO not responding. Retriable.
	DeviceUnavailable Kind = "device_unavailable"
	// StateConflict: invalid state transition. Non-retriable.
	StateConflict Kind = "state_conflict"
	// Inconclusive: an audit probe could not determine an answer.
	Inconclusive Kind = "inconclusive"
)

// Retriable reports whether a failure of this kind may be retried with backoff.
func (k Kind) Retriable() bool {
	switch k {
	case ModelLoadFailed, TranscribeFailed, UpstreamUnavailable, DeviceUnavailable:
		return true
	default:
		return false
	}
}

// Fault carries a classified failure across component boundaries.
type Fault struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, may be nil
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

// Is allows errors.Is(err, &Fault{Kind: k}) style matching on kind.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return t.Kind == f.Kind
}

// New constructs a Fault without a wrapped cause.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a Fault wrapping err. A nil err yields a plain Fault.
func Wrap(kind Kind, err error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Unclassified errors report UpstreamUnavailable-style retriability as false
// via the zero Kind.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}

// IsRetriable reports whether err carries a retriable Kind.
func IsRetriable(err error) bool {
	if k, ok := KindOf(err); ok {
		return k.Retriable()
	}
	return false
}
