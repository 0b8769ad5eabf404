// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldJobID  = "job_id"
	FieldCity   = "city"
	FieldShowID = "show_id"
	FieldVODID  = "vod_id"
	FieldDevice = "device"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath    = "path"
	FieldSCCPath = "scc_path"
	FieldMount   = "mount"
)
