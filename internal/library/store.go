package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/quaver-audio/quaver/pkg/log"
)

// Store wraps the SQLite database holding tracks and virtual libraries
type Store struct {
	db         *sql.DB
	predicates *PredicateEnv
	logger     *slog.Logger
}

var (
	ErrMigrateFailed    = errors.New("schema migration failed")
	ErrLibraryNotFound  = errors.New("virtual library not found")
	ErrLibraryExists    = errors.New("virtual library exists")
	ErrInvalidPredicate = errors.New("invalid membership predicate")
)

// Open opens (creating if necessary) the library database at path and
// applies pending schema migrations. The pool is capped at one connection:
// the store is only ever used from the event loop and the HTTP handlers,
// and SQLite rewards the discipline
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:         db,
		predicates: NewPredicateEnv(),
		logger:     logger,
	}, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertTrack inserts the track or refreshes its metadata when the path is
// already indexed, reporting whether a new row was created
func (s *Store) UpsertTrack(ctx context.Context, t *Track) (bool, error) {
	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM tracks WHERE path = ?`, t.Path,
	).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO tracks (path, title, artist, album, duration_ms,
				mtime, added_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.Path, t.Title, t.Artist, t.Album, t.DurationMS, t.MTime,
			time.Now().UTC())
		if err != nil {
			return false, err
		}
		t.ID, _ = res.LastInsertId()
		return true, nil
	case err != nil:
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE tracks
		 SET title = ?, artist = ?, album = ?, duration_ms = ?, mtime = ?
		 WHERE id = ?`,
		t.Title, t.Artist, t.Album, t.DurationMS, t.MTime, existing)
	if err != nil {
		return false, err
	}
	t.ID = existing
	return false, nil
}

// RemoveTrackByPath deletes the track indexed at path, reporting whether a
// row was removed
func (s *Store) RemoveTrackByPath(
	ctx context.Context, path string,
) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tracks WHERE path = ?`, path)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Tracks returns every indexed track ordered by path
func (s *Store) Tracks(ctx context.Context) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, title, artist, album, duration_ms, mtime, added_at
		 FROM tracks ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	return scanTracks(rows)
}

// TrackMTimes returns the indexed path set with each path's recorded
// modification time, for the scanner's change detection
func (s *Store) TrackMTimes(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, mtime FROM tracks`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	mtimes := map[string]int64{}
	for rows.Next() {
		var path string
		var mtime int64
		if err := rows.Scan(&path, &mtime); err != nil {
			return nil, err
		}
		mtimes[path] = mtime
	}
	return mtimes, rows.Err()
}

// TrackCount returns the number of indexed tracks
func (s *Store) TrackCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tracks`).Scan(&n)
	return n, err
}

// RegisterLibrary validates the predicate, assigns an ID, and records the
// virtual library
func (s *Store) RegisterLibrary(
	ctx context.Context, name, predicate string,
) (*VirtualLibrary, error) {
	if err := s.predicates.Check(predicate); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPredicate, err)
	}

	lib := &VirtualLibrary{
		ID:        LibraryID(uuid.NewString()),
		Name:      name,
		Predicate: predicate,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO virtual_libraries (id, name, predicate, created_at)
		 VALUES (?, ?, ?, ?)`,
		string(lib.ID), lib.Name, lib.Predicate, lib.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrLibraryExists, name)
	}

	s.logger.Info("Virtual library registered",
		log.Library(lib.ID),
		slog.String("name", name))
	return lib, nil
}

// RemoveLibrary unregisters the virtual library, reporting whether it
// existed
func (s *Store) RemoveLibrary(
	ctx context.Context, id LibraryID,
) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM virtual_libraries WHERE id = ?`, string(id))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Libraries returns every registered virtual library ordered by name
func (s *Store) Libraries(ctx context.Context) ([]VirtualLibrary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, predicate, created_at
		 FROM virtual_libraries ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var libs []VirtualLibrary
	for rows.Next() {
		var lib VirtualLibrary
		var id string
		if err := rows.Scan(
			&id, &lib.Name, &lib.Predicate, &lib.CreatedAt,
		); err != nil {
			return nil, err
		}
		lib.ID = LibraryID(id)
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

// Members evaluates the virtual library's predicate against every track
// and returns the members
func (s *Store) Members(
	ctx context.Context, id LibraryID,
) ([]Track, error) {
	var predicate string
	err := s.db.QueryRowContext(ctx,
		`SELECT predicate FROM virtual_libraries WHERE id = ?`,
		string(id)).Scan(&predicate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	tracks, err := s.Tracks(ctx)
	if err != nil {
		return nil, err
	}

	members := tracks[:0:0]
	for i := range tracks {
		ok, err := s.predicates.Eval(predicate, &tracks[i])
		if err != nil {
			return nil, fmt.Errorf("library %s: track %s: %w",
				id, tracks[i].Path, err)
		}
		if ok {
			members = append(members, tracks[i])
		}
	}
	return members, nil
}

func scanTracks(rows *sql.Rows) ([]Track, error) {
	var tracks []Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(
			&t.ID, &t.Path, &t.Title, &t.Artist, &t.Album, &t.DurationMS,
			&t.MTime, &t.AddedAt,
		); err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}
