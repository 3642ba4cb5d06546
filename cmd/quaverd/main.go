package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"

	app "github.com/quaver-audio/quaver"
	"github.com/quaver-audio/quaver/internal/cache"
	"github.com/quaver-audio/quaver/internal/config"
	"github.com/quaver-audio/quaver/internal/events"
	"github.com/quaver-audio/quaver/internal/library"
	"github.com/quaver-audio/quaver/internal/loop"
	"github.com/quaver-audio/quaver/internal/scanner"
	"github.com/quaver-audio/quaver/internal/server"
	"github.com/quaver-audio/quaver/internal/snapshot"
	"github.com/quaver-audio/quaver/pkg/log"
	"github.com/quaver-audio/quaver/pkg/timers"
)

type quaverd struct {
	cfg        *config.Config
	store      *library.Store
	cache      *cache.Cache
	snapshots  *snapshot.BlobStore
	hub        *events.Hub
	loop       *loop.Loop
	scanner    *scanner.Scanner
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var (
	ErrOpenLibrary   = errors.New("failed to open library store")
	ErrOpenSnapshots = errors.New("failed to open snapshot bucket")
	ErrStartScanner  = errors.New("failed to start scanner")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &quaverd{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *quaverd) run() error {
	if err := s.initializeStores(); err != nil {
		return err
	}
	s.importStartupSnapshot()

	s.initializeLoop()
	if err := s.startScanner(); err != nil {
		s.shutdown()
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *quaverd) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Quaver starting",
		slog.String("log_level", s.cfg.LogLevel),
		slog.String("music_root", s.cfg.MusicRoot),
		slog.String("database_path", s.cfg.DatabasePath),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *quaverd) initializeStores() error {
	store, err := library.Open(s.cfg.DatabasePath, slog.Default())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenLibrary, err)
	}
	s.store = store

	s.cache = cache.New(
		s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB,
		s.cfg.RedisPrefix, s.cfg.CacheTTL,
	)
	if err := s.cache.Ping(context.Background()); err != nil {
		slog.Warn("Status cache unavailable, reads fall back to the store",
			log.Error(err))
	}

	if s.cfg.SnapshotBucketURL != "" {
		s.snapshots, err = snapshot.NewBlobStore(
			context.Background(),
			s.cfg.SnapshotBucketURL, s.cfg.SnapshotPrefix,
		)
		if err != nil {
			_ = s.store.Close()
			return fmt.Errorf("%w: %w", ErrOpenSnapshots, err)
		}
	}

	s.hub = events.NewHub()
	return nil
}

func (s *quaverd) initializeLoop() {
	sched := timers.New(nil,
		timers.WithNormalQueueLimit(s.cfg.NormalQueueLimit))
	s.loop = loop.New(sched, nil,
		loop.WithSkewThreshold(s.cfg.SkewThreshold))
	s.loop.Start()
}

func (s *quaverd) startScanner() error {
	s.scanner = scanner.New(
		afero.NewOsFs(), s.cfg.MusicRoot, s.store, s.hub, s.cache,
		s.loop, s.cfg.ScanInterval, slog.Default(),
	)
	if err := s.scanner.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrStartScanner, err)
	}
	return nil
}

func (s *quaverd) startServer() {
	s.apiServer = server.New(s.loop, s.store, s.scanner, s.cache, s.hub)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: s.apiServer.SetupRoutes(),
	}

	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", log.Error(err))
			s.quit <- syscall.SIGTERM
		}
	}()
}

func (s *quaverd) shutdown() {
	slog.Info("Quaver shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown failed", log.Error(err))
		}
	}

	s.exportShutdownSnapshot(ctx)

	if s.loop != nil {
		s.loop.Stop()
	}
	if s.snapshots != nil {
		_ = s.snapshots.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// importStartupSnapshot seeds an empty library from the last shutdown
// snapshot, so a fresh deployment serves its catalog before the first scan
// completes. The scan that follows reconciles the restored rows with the
// filesystem
func (s *quaverd) importStartupSnapshot() {
	if s.snapshots == nil {
		return
	}
	ctx := context.Background()

	n, err := s.store.TrackCount(ctx)
	if err != nil || n > 0 {
		return
	}

	snap, err := s.snapshots.Get(ctx, "shutdown")
	if errors.Is(err, snapshot.ErrSnapshotNotFound) {
		return
	}
	if err != nil {
		slog.Warn("Failed to read startup snapshot", log.Error(err))
		return
	}

	if err := snapshot.Restore(ctx, s.store, snap); err != nil {
		slog.Warn("Failed to restore startup snapshot", log.Error(err))
		return
	}
	slog.Info("Library restored from shutdown snapshot",
		slog.Int("tracks", len(snap.Tracks)),
		slog.Int("libraries", len(snap.Libraries)))
}

// exportShutdownSnapshot writes the snapshot importStartupSnapshot reads on
// the next boot, when a bucket is configured
func (s *quaverd) exportShutdownSnapshot(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	snap, err := snapshot.Take(ctx, s.store)
	if err != nil {
		slog.Error("Failed to build shutdown snapshot", log.Error(err))
		return
	}
	if err := s.snapshots.Put(ctx, "shutdown", snap); err != nil {
		slog.Error("Failed to store shutdown snapshot", log.Error(err))
	}
}
