// Package scanner keeps the track store in sync with the music root
//
// Scans run on the event loop and re-arm themselves through the timer
// scheduler, so a long-running scan delays the next one rather than
// overlapping it
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/quaver-audio/quaver/internal/cache"
	"github.com/quaver-audio/quaver/internal/events"
	"github.com/quaver-audio/quaver/internal/library"
	"github.com/quaver-audio/quaver/internal/loop"
	"github.com/quaver-audio/quaver/pkg/log"
	"github.com/quaver-audio/quaver/pkg/timers"
)

// Scanner walks the music root and upserts changed tracks, pruning rows
// whose files have vanished
type Scanner struct {
	fs       afero.Fs
	root     string
	store    *library.Store
	hub      *events.Hub
	cache    *cache.Cache
	loop     *loop.Loop
	interval time.Duration
	logger   *slog.Logger
}

// audioExts are the file extensions the scanner indexes
var audioExts = map[string]struct{}{
	".mp3":  {},
	".flac": {},
	".ogg":  {},
	".m4a":  {},
	".wav":  {},
}

const sidecarExt = ".json"

// New creates a scanner over the given filesystem root. The cache may be
// nil, in which case scan status is not recorded
func New(
	fsys afero.Fs, root string, store *library.Store, hub *events.Hub,
	c *cache.Cache, l *loop.Loop, interval time.Duration,
	logger *slog.Logger,
) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		fs:       fsys,
		root:     root,
		store:    store,
		hub:      hub,
		cache:    c,
		loop:     l,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the first scan on the event loop. Each scan re-arms the
// next one when it completes
func (s *Scanner) Start() error {
	return s.loop.Do(func(sched *timers.Scheduler) {
		s.scheduleNext(sched, time.Now())
	})
}

// RequestScan schedules an immediate rescan, replacing the pending one
func (s *Scanner) RequestScan() error {
	return s.loop.Do(func(sched *timers.Scheduler) {
		sched.CancelByTarget(s)
		s.scheduleNext(sched, time.Now())
	})
}

func (s *Scanner) scheduleNext(sched *timers.Scheduler, fireAt time.Time) {
	if _, err := sched.ScheduleNormal(s, fireAt, s.onTimer); err != nil {
		s.logger.Error("Failed to schedule library scan", log.Error(err))
	}
}

// onTimer is the scheduler callback: scan, then re-arm
func (s *Scanner) onTimer(_ any, _ ...any) any {
	result, err := s.Scan(context.Background())
	if err != nil {
		s.logger.Error("Library scan failed", log.Error(err))
	} else {
		s.logger.Info("Library scan completed",
			log.Path(s.root),
			slog.Int("added", result.Added),
			slog.Int("updated", result.Updated),
			slog.Int("removed", result.Removed))
	}
	s.scheduleNext(s.loop.Scheduler(), time.Now().Add(s.interval))
	return nil
}

// Scan walks the root once, synchronizing the store with the filesystem
func (s *Scanner) Scan(ctx context.Context) (*events.ScanResult, error) {
	s.hub.Publish(events.TypeScanStarted, events.ScanResult{Root: s.root})

	known, err := s.store.TrackMTimes(ctx)
	if err != nil {
		return nil, err
	}

	result := &events.ScanResult{Root: s.root}
	seen := map[string]struct{}{}

	err = afero.Walk(s.fs, s.root,
		func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !isAudioFile(path) {
				return nil
			}
			seen[path] = struct{}{}

			mtime := info.ModTime().Unix()
			if prev, ok := known[path]; ok && prev == mtime {
				return nil
			}
			return s.indexTrack(ctx, path, mtime, result)
		})
	if err != nil {
		return nil, err
	}

	for path := range known {
		if _, ok := seen[path]; ok {
			continue
		}
		removed, err := s.store.RemoveTrackByPath(ctx, path)
		if err != nil {
			return nil, err
		}
		if removed {
			result.Removed++
			s.hub.Publish(events.TypeTrackRemoved,
				events.TrackChange{Path: path})
		}
	}

	s.hub.Publish(events.TypeScanCompleted, *result)
	s.recordStatus(ctx, result)
	return result, nil
}

// recordStatus caches the scan outcome for the HTTP status surface
func (s *Scanner) recordStatus(
	ctx context.Context, result *events.ScanResult,
) {
	if s.cache == nil {
		return
	}
	err := s.cache.SetScanStatus(ctx, &cache.ScanStatus{
		CompletedAt: time.Now().UTC(),
		Result:      *result,
	})
	if err != nil {
		s.logger.Warn("Failed to cache scan status", log.Error(err))
	}
}

func (s *Scanner) indexTrack(
	ctx context.Context, path string, mtime int64,
	result *events.ScanResult,
) error {
	track := &library.Track{
		Path:  path,
		Title: trackTitle(path),
		MTime: mtime,
	}
	s.applySidecar(path, track)

	created, err := s.store.UpsertTrack(ctx, track)
	if err != nil {
		return err
	}
	if created {
		result.Added++
		s.hub.Publish(events.TypeTrackAdded,
			events.TrackChange{Path: path})
	} else {
		result.Updated++
	}
	return nil
}

// applySidecar overlays tag fields from the track's companion JSON file,
// when one exists
func (s *Scanner) applySidecar(path string, track *library.Track) {
	data, err := afero.ReadFile(s.fs, path+sidecarExt)
	if err != nil {
		return
	}
	meta := library.ParseSidecar(data)
	if meta.Title != "" {
		track.Title = meta.Title
	}
	track.Artist = meta.Artist
	track.Album = meta.Album
	track.DurationMS = meta.DurationMS
}

func isAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := audioExts[ext]
	return ok
}

func trackTitle(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
