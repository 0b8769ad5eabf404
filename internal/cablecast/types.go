// SPDX-License-Identifier: MIT

// Package cablecast is a typed client for the upstream broadcast/VOD
// platform. All pipeline access to shows, VODs, chapters and run schedules
// goes through it; no other package speaks upstream HTTP.
package cablecast

import "time"

// Show is a scheduled program record upstream.
type Show struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// EventDate is the air date, ISO "2006-01-02" or RFC3339.
	EventDate string `json:"eventDate,omitempty"`
	// Length is the runtime in seconds.
	Length     int `json:"length,omitempty"`
	LocationID int `json:"locationId,omitempty"`
	ChannelID  int `json:"channelId,omitempty"`
}

// Date parses EventDate, tolerating the date-only and RFC3339 forms the
// platform emits. The zero time means no usable date.
func (s Show) Date() time.Time {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s.EventDate); err == nil {
			return t
		}
	}
	return time.Time{}
}

// VOD states reported by the platform.
const (
	VODStateProcessing = "processing"
	VODStateReady      = "ready"
	VODStateError      = "error"
)

// VOD is a video-on-demand asset attached to a show.
type VOD struct {
	ID              int            `json:"id"`
	ShowID          int            `json:"show,omitempty"`
	State           string         `json:"state,omitempty"`
	PercentComplete int            `json:"percentComplete,omitempty"`
	URL             string         `json:"url,omitempty"`
	EmbedCode       string         `json:"embedCode,omitempty"`
	QualityID       int            `json:"quality,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	// CaptionsAvailable is set by vodStatus; absent means unknown.
	CaptionsAvailable *bool     `json:"captionsAvailable,omitempty"`
	LastUpdated       time.Time `json:"lastUpdated,omitempty"`
}

// VODStatus is the processing snapshot from /vodStatus/{id}.
type VODStatus struct {
	ID                int    `json:"id"`
	State             string `json:"state"`
	PercentComplete   int    `json:"percentComplete"`
	CaptionsAvailable bool   `json:"captionsAvailable"`
	Message           string `json:"message,omitempty"`
}

// Chapter is a titled offset range inside a VOD.
type Chapter struct {
	ID          int    `json:"id,omitempty"`
	VODID       int    `json:"vod"`
	Title       string `json:"title"`
	StartS      int    `json:"startSeconds"`
	EndS        int    `json:"endSeconds,omitempty"`
	Description string `json:"description,omitempty"`
}

// Run is an on-air instance of a show with explicit start and end.
type Run struct {
	ID         int       `json:"id"`
	ShowID     int       `json:"show"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ChannelID  int       `json:"channelId,omitempty"`
	LocationID int       `json:"locationId,omitempty"`
}

// Location is a production location (one per member city, typically).
type Location struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Quality is a VOD transcode quality preset.
type Quality struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}
