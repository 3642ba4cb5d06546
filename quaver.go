// Package quaver is the scheduling core of the Quaver media-library server
package quaver

const (
	Name    = "quaver"
	Version = "0.1.0"
)
