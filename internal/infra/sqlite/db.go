// Package sqlite is the durable store behind pana: day-partitioned
// conversation trees and the local model catalog, in one SQLite file.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/tutu-network/pana/internal/domain"
)

// FileName is the database file created inside the data directory.
const FileName = "pana.db"

// DB wraps the SQLite connection.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database in dir and applies migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", domain.ErrStorageUnavailable, dir, err)
	}

	dsn := "file:" + filepath.Join(dir, FileName) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	// Single connection: appends and scans are serialized.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	db := &DB{db: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %w", domain.ErrStorageUnavailable, err)
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.db.Close()
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// One row per calendar day seen.
		`CREATE TABLE IF NOT EXISTS conversation_trees (
			name       TEXT PRIMARY KEY,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Ordered key/value entries. Keys and values are BLOBs so a
		// non-UTF-8 row is detected on read instead of being coerced.
		`CREATE TABLE IF NOT EXISTS conversation_entries (
			tree  TEXT    NOT NULL,
			key   BLOB    NOT NULL,
			role  INTEGER NOT NULL,
			value BLOB    NOT NULL,
			PRIMARY KEY (tree, key)
		) WITHOUT ROWID`,

		// Local model catalog.
		`CREATE TABLE IF NOT EXISTS models (
			name         TEXT PRIMARY KEY,
			url          TEXT NOT NULL,
			file_name    TEXT NOT NULL,
			size_bytes   INTEGER NOT NULL DEFAULT 0,
			sha256       TEXT NOT NULL DEFAULT '',
			format       TEXT NOT NULL DEFAULT 'gguf',
			context_size INTEGER NOT NULL DEFAULT 0,
			pulled_at    TEXT,
			last_used    TEXT,
			updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
