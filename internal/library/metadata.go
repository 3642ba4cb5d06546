package library

import "github.com/tidwall/gjson"

// Sidecar holds the tag fields a track's companion JSON file may carry
type Sidecar struct {
	Title      string
	Artist     string
	Album      string
	DurationMS int64
}

// ParseSidecar extracts tag fields from sidecar JSON. Unknown or missing
// fields are left zero; invalid JSON yields an empty Sidecar
func ParseSidecar(data []byte) Sidecar {
	if !gjson.ValidBytes(data) {
		return Sidecar{}
	}
	return Sidecar{
		Title:      gjson.GetBytes(data, "title").String(),
		Artist:     gjson.GetBytes(data, "artist").String(),
		Album:      gjson.GetBytes(data, "album").String(),
		DurationMS: gjson.GetBytes(data, "duration_ms").Int(),
	}
}
