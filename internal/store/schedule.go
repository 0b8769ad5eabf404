// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ctvcoop/archivist/internal/config"
)

// Schedule entry states.
const (
	ScheduleStateScheduled = "scheduled"
	ScheduleStateQueued    = "queued"
	ScheduleStateCompleted = "completed"
	ScheduleStateFailed    = "failed"
)

// Actions a schedule entry drives on its device.
const (
	ActionRecord       = "record"
	ActionStream       = "stream"
	ActionRecordStream = "record+stream"
)

// ScheduleEntry is one planned capture window on a HELO device.
type ScheduleEntry struct {
	ID        int64
	Device    string // city key of the device
	ShowID    int
	Start     time.Time // preroll already applied
	End       time.Time
	Action    string
	State     string
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertScheduleEntry inserts the entry unless one exists for the same
// (device, show, start, end). Reports whether a row was inserted.
func (s *Store) UpsertScheduleEntry(ctx context.Context, e ScheduleEntry) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO helo_schedules (device, show_id, start_at, end_at, action, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device, show_id, start_at, end_at) DO NOTHING`,
		e.Device, e.ShowID,
		e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339),
		e.Action, ScheduleStateScheduled, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateScheduleState advances an entry's state and records the last error.
func (s *Store) UpdateScheduleState(ctx context.Context, id int64, state, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE helo_schedules SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		state, lastError, time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// ListSchedulesByState returns entries in the given states, start order.
func (s *Store) ListSchedulesByState(ctx context.Context, states ...string) ([]ScheduleEntry, error) {
	if len(states) == 0 {
		return nil, nil
	}
	query := `SELECT id, device, show_id, start_at, end_at, action, state, last_error, created_at, updated_at
	          FROM helo_schedules WHERE state IN (?` + strings.Repeat(",?", len(states)-1) + `) ORDER BY start_at`
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = st
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSchedules(rows)
}

// GetScheduleEntry returns one entry by id.
func (s *Store) GetScheduleEntry(ctx context.Context, id int64) (*ScheduleEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, device, show_id, start_at, end_at, action, state, last_error, created_at, updated_at
		 FROM helo_schedules WHERE id = ?`, id)
	var e ScheduleEntry
	var start, end, created, updated string
	err := row.Scan(&e.ID, &e.Device, &e.ShowID, &start, &end, &e.Action, &e.State, &e.LastError, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Start, _ = time.Parse(time.RFC3339, start)
	e.End, _ = time.Parse(time.RFC3339, end)
	e.CreatedAt, _ = time.Parse(time.RFC3339, created)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &e, nil
}

func scanSchedules(rows *sql.Rows) ([]ScheduleEntry, error) {
	var out []ScheduleEntry
	for rows.Next() {
		var e ScheduleEntry
		var start, end, created, updated string
		if err := rows.Scan(&e.ID, &e.Device, &e.ShowID, &start, &end, &e.Action,
			&e.State, &e.LastError, &created, &updated); err != nil {
			return nil, err
		}
		e.Start, _ = time.Parse(time.RFC3339, start)
		e.End, _ = time.Parse(time.RFC3339, end)
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		e.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SyncHeloDevices mirrors the configured device table for operators querying
// the database directly.
func (s *Store) SyncHeloDevices(ctx context.Context, devices []config.HeloDevice) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM helo_devices`); err != nil {
			return err
		}
		for _, d := range devices {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO helo_devices (city, ip, username, rtmp_url, stream_key, channel_id)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				d.City, d.IP, d.Username, d.RTMPURL, d.StreamKey, d.ChannelID); err != nil {
				return err
			}
		}
		return nil
	})
}
