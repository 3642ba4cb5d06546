// Package events defines the server's event types and the in-process hub
// that fans them out to WebSocket clients
package events

import "time"

type (
	// Type discriminates event payloads on the wire
	Type string

	// Event is a single occurrence published to the hub
	Event struct {
		Type      Type      `json:"type"`
		Timestamp time.Time `json:"timestamp"`
		Payload   any       `json:"payload,omitempty"`
	}

	// ScanResult summarizes a completed library scan
	ScanResult struct {
		Root    string `json:"root"`
		Added   int    `json:"added"`
		Updated int    `json:"updated"`
		Removed int    `json:"removed"`
	}

	// LibraryChange describes a virtual-library registration change
	LibraryChange struct {
		LibraryID string `json:"library_id"`
		Name      string `json:"name,omitempty"`
	}

	// TrackChange describes a single track addition or removal
	TrackChange struct {
		Path string `json:"path"`
	}
)

const (
	TypeScanStarted       Type = "scan_started"
	TypeScanCompleted     Type = "scan_completed"
	TypeTrackAdded        Type = "track_added"
	TypeTrackRemoved      Type = "track_removed"
	TypeLibraryRegistered Type = "library_registered"
	TypeLibraryRemoved    Type = "library_removed"
)
