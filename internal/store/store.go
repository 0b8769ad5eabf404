// SPDX-License-Identifier: MIT

// Package store is the relational layer: caption links, upstream mirrors and
// HELO schedule entries, backed by SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

const busyTimeout = 5 * time.Second

// Store wraps the SQLite handle. All writes are transactional.
type Store struct {
	db *sql.DB
}

// Open initializes the database at dbPath, enforcing WAL mode and
// busy_timeout on every pooled connection via DSN pragmas.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS links (
		transcription_id TEXT PRIMARY KEY,
		show_id INTEGER NOT NULL,
		title_snapshot TEXT NOT NULL DEFAULT '',
		duration_snapshot INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shows_mirror (
		upstream_id INTEGER NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		duration INTEGER NOT NULL DEFAULT 0,
		event_date TEXT NOT NULL DEFAULT '',
		location_id INTEGER NOT NULL DEFAULT 0,
		channel_id INTEGER NOT NULL DEFAULT 0,
		synced_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vods_mirror (
		upstream_id INTEGER PRIMARY KEY,
		show_id INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT '',
		percent INTEGER NOT NULL DEFAULT 0,
		url TEXT NOT NULL DEFAULT '',
		embed_code TEXT NOT NULL DEFAULT '',
		captions_available INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chapters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vod_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		start_s INTEGER NOT NULL,
		end_s INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS helo_devices (
		city TEXT PRIMARY KEY,
		ip TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		rtmp_url TEXT NOT NULL DEFAULT '',
		stream_key TEXT NOT NULL DEFAULT '',
		channel_id INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS helo_schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device TEXT NOT NULL,
		show_id INTEGER NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		action TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'scheduled',
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(device, show_id, start_at, end_at)
	);

	CREATE INDEX IF NOT EXISTS idx_links_show ON links(show_id);
	CREATE INDEX IF NOT EXISTS idx_vods_show ON vods_mirror(show_id);
	CREATE INDEX IF NOT EXISTS idx_chapters_vod ON chapters(vod_id);
	CREATE INDEX IF NOT EXISTS idx_helo_schedules_state ON helo_schedules(state, start_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
