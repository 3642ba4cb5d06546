// Package library implements the track store and virtual-library
// registration
//
// Tracks live in a SQLite database kept in sync by the folder scanner.
// A virtual library is a named Lua predicate over track fields; membership
// is evaluated on demand rather than materialized
package library

import (
	"time"
)

type (
	// LibraryID is a unique identifier for a virtual library
	LibraryID string

	// Track is one indexed media file
	Track struct {
		ID         int64     `json:"id"`
		Path       string    `json:"path"`
		Title      string    `json:"title"`
		Artist     string    `json:"artist"`
		Album      string    `json:"album"`
		DurationMS int64     `json:"duration_ms"`
		MTime      int64     `json:"mtime"`
		AddedAt    time.Time `json:"added_at"`
	}

	// VirtualLibrary is a registered membership predicate over the track
	// store
	VirtualLibrary struct {
		ID        LibraryID `json:"id"`
		Name      string    `json:"name"`
		Predicate string    `json:"predicate"`
		CreatedAt time.Time `json:"created_at"`
	}
)
