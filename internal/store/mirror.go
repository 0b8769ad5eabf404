// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ctvcoop/archivist/internal/cablecast"
)

// SyncShows replaces or inserts mirror rows for the given upstream shows in a
// single transaction per batch.
func (s *Store) SyncShows(ctx context.Context, shows []cablecast.Show) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO shows_mirror (upstream_id, title, description, duration, event_date, location_id, channel_id, synced_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(upstream_id) DO UPDATE SET
			   title = excluded.title,
			   description = excluded.description,
			   duration = excluded.duration,
			   event_date = excluded.event_date,
			   location_id = excluded.location_id,
			   channel_id = excluded.channel_id,
			   synced_at = excluded.synced_at`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()
		for _, show := range shows {
			if _, err := stmt.ExecContext(ctx, show.ID, show.Title, show.Description,
				show.Length, show.EventDate, show.LocationID, show.ChannelID, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMirroredShows returns the mirrored show table as upstream records.
func (s *Store) GetMirroredShows(ctx context.Context) ([]cablecast.Show, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT upstream_id, title, description, duration, event_date, location_id, channel_id
		 FROM shows_mirror ORDER BY upstream_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []cablecast.Show
	for rows.Next() {
		var show cablecast.Show
		if err := rows.Scan(&show.ID, &show.Title, &show.Description, &show.Length,
			&show.EventDate, &show.LocationID, &show.ChannelID); err != nil {
			return nil, err
		}
		out = append(out, show)
	}
	return out, rows.Err()
}

// UpsertVOD mirrors one VOD record.
func (s *Store) UpsertVOD(ctx context.Context, vod cablecast.VOD) error {
	captions := 0
	if vod.CaptionsAvailable != nil && *vod.CaptionsAvailable {
		captions = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vods_mirror (upstream_id, show_id, state, percent, url, embed_code, captions_available, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(upstream_id) DO UPDATE SET
		   show_id = excluded.show_id,
		   state = excluded.state,
		   percent = excluded.percent,
		   url = excluded.url,
		   embed_code = excluded.embed_code,
		   captions_available = excluded.captions_available,
		   updated_at = excluded.updated_at`,
		vod.ID, vod.ShowID, vod.State, vod.PercentComplete, vod.URL, vod.EmbedCode,
		captions, time.Now().UTC().Format(time.RFC3339))
	return err
}

// GetVODForShow returns the mirrored VOD for a show, or nil when none exists.
func (s *Store) GetVODForShow(ctx context.Context, showID int) (*cablecast.VOD, error) {
	var vod cablecast.VOD
	var captions int
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT upstream_id, show_id, state, percent, url, embed_code, captions_available, updated_at
		 FROM vods_mirror WHERE show_id = ? ORDER BY upstream_id DESC LIMIT 1`, showID).
		Scan(&vod.ID, &vod.ShowID, &vod.State, &vod.PercentComplete, &vod.URL,
			&vod.EmbedCode, &captions, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b := captions != 0
	vod.CaptionsAvailable = &b
	vod.LastUpdated, _ = time.Parse(time.RFC3339, updated)
	return &vod, nil
}

// ReplaceChapters swaps a VOD's mirrored chapter set atomically.
func (s *Store) ReplaceChapters(ctx context.Context, vodID int, chapters []cablecast.Chapter) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE vod_id = ?`, vodID); err != nil {
			return err
		}
		for _, ch := range chapters {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chapters (vod_id, title, start_s, end_s, description) VALUES (?, ?, ?, ?, ?)`,
				vodID, ch.Title, ch.StartS, ch.EndS, ch.Description); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChapters returns the mirrored chapters of a VOD in start order.
func (s *Store) GetChapters(ctx context.Context, vodID int) ([]cablecast.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vod_id, title, start_s, end_s, description
		 FROM chapters WHERE vod_id = ? ORDER BY start_s`, vodID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []cablecast.Chapter
	for rows.Next() {
		var ch cablecast.Chapter
		if err := rows.Scan(&ch.ID, &ch.VODID, &ch.Title, &ch.StartS, &ch.EndS, &ch.Description); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}
