// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ctvcoop/archivist/internal/faults"
)

// Link records that a transcription belongs to an upstream show, with
// snapshots of the show facts at link time.
type Link struct {
	TranscriptionID  string
	ShowID           int
	TitleSnapshot    string
	DurationSnapshot int
	CreatedAt        time.Time
}

// ErrLinkNotFound is returned when no link exists for a transcription.
var ErrLinkNotFound = errors.New("store: link not found")

// Link creates a link record. A transcription links at most once; a second
// call for the same id surfaces a LinkConflict fault carrying the existing
// show id.
func (s *Store) Link(ctx context.Context, transcriptionID string, showID int, titleSnapshot string, durationSnapshot int) error {
	return s.inTx(func(tx *sql.Tx) error {
		var existing int
		err := tx.QueryRowContext(ctx,
			`SELECT show_id FROM links WHERE transcription_id = ?`, transcriptionID).Scan(&existing)
		switch {
		case err == nil:
			return faults.New(faults.LinkConflict,
				"transcription %s already linked to show %d", transcriptionID, existing)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO links (transcription_id, show_id, title_snapshot, duration_snapshot, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			transcriptionID, showID, titleSnapshot, durationSnapshot,
			time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// Unlink removes the link for a transcription. Removing a nonexistent link is
// a no-op.
func (s *Store) Unlink(ctx context.Context, transcriptionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM links WHERE transcription_id = ?`, transcriptionID)
	return err
}

// GetLink returns the link for a transcription, or ErrLinkNotFound.
func (s *Store) GetLink(ctx context.Context, transcriptionID string) (*Link, error) {
	var l Link
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT transcription_id, show_id, title_snapshot, duration_snapshot, created_at
		 FROM links WHERE transcription_id = ?`, transcriptionID).
		Scan(&l.TranscriptionID, &l.ShowID, &l.TitleSnapshot, &l.DurationSnapshot, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &l, nil
}

// ListLinks returns links for a show (0 = all), newest first.
func (s *Store) ListLinks(ctx context.Context, showID int) ([]Link, error) {
	query := `SELECT transcription_id, show_id, title_snapshot, duration_snapshot, created_at
	          FROM links`
	args := []any{}
	if showID > 0 {
		query += ` WHERE show_id = ?`
		args = append(args, showID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Link
	for rows.Next() {
		var l Link
		var created string
		if err := rows.Scan(&l.TranscriptionID, &l.ShowID, &l.TitleSnapshot, &l.DurationSnapshot, &created); err != nil {
			return nil, err
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, l)
	}
	return out, rows.Err()
}
