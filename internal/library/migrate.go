package library

import (
	"database/sql"
	"fmt"
)

// migrations is the ordered schema history. Entry i upgrades the database
// to version i+1; each entry runs in its own transaction
var migrations = []string{
	`CREATE TABLE tracks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		path        TEXT NOT NULL UNIQUE,
		title       TEXT NOT NULL DEFAULT '',
		artist      TEXT NOT NULL DEFAULT '',
		album       TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		mtime       INTEGER NOT NULL DEFAULT 0,
		added_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_tracks_artist ON tracks (artist);
	CREATE INDEX idx_tracks_album ON tracks (album);
	CREATE TABLE virtual_libraries (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		predicate  TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrateFailed, err)
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrateFailed, err)
	}

	for v := current; v < len(migrations); v++ {
		if err := applyMigration(db, v+1, migrations[v]); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(db *sql.DB, version int, stmts string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrateFailed, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(stmts); err != nil {
		return fmt.Errorf("%w: version %d: %w", ErrMigrateFailed, version, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_version (version) VALUES (?)`, version,
	); err != nil {
		return fmt.Errorf("%w: version %d: %w", ErrMigrateFailed, version, err)
	}
	return tx.Commit()
}
