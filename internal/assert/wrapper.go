package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quaver-audio/quaver/internal/config"
	"github.com/quaver-audio/quaver/internal/library"
)

// Wrapper wraps testify assertions with Quaver-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
	}
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= config.MaxTCPPort)
	w.True(cfg.NormalQueueLimit > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, expected error) {
	w.Helper()
	w.ErrorIs(cfg.Validate(), expected)
}

// TrackPaths asserts that the track list holds exactly the given paths, in
// order
func (w *Wrapper) TrackPaths(tracks []library.Track, paths ...string) {
	w.Helper()
	got := make([]string, len(tracks))
	for i, t := range tracks {
		got[i] = t.Path
	}
	w.Equal(paths, got)
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}
