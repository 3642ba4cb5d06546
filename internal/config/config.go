package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type (
	// Config holds configuration settings for the media server
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Library & Scanner
		MusicRoot    string
		DatabasePath string
		ScanInterval time.Duration

		// Status cache
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RedisPrefix   string
		CacheTTL      time.Duration

		// Snapshots
		SnapshotBucketURL string
		SnapshotPrefix    string

		// Timers
		NormalQueueLimit int
		SkewThreshold    time.Duration

		ShutdownTimeout time.Duration
	}
)

const (
	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535

	DefaultMusicRoot    = "/srv/music"
	DefaultDatabasePath = "quaver.db"
	DefaultScanInterval = 15 * time.Minute

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisDB     = 0
	DefaultRedisPrefix = "quaver"
	DefaultCacheTTL    = time.Hour

	DefaultSnapshotPrefix = "snapshots/"

	DefaultNormalQueueLimit = 500
	DefaultSkewThreshold    = 10 * time.Second
	DefaultShutdownTimeout  = 10 * time.Second

	MaxNormalQueueLimit = 1_000_000
	MaxScanInterval     = 24 * time.Hour
)

var (
	ErrInvalidAPIPort      = errors.New("invalid API port")
	ErrMissingMusicRoot    = errors.New("music root must be set")
	ErrMissingDatabasePath = errors.New("database path must be set")
	ErrInvalidScanInterval = errors.New(
		"scan interval must be positive and at most 24h",
	)
	ErrInvalidQueueLimit = errors.New(
		"normal queue limit must be positive",
	)
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// server, library, and timer settings
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:          DefaultAPIHost,
		APIPort:          DefaultAPIPort,
		LogLevel:         "info",
		MusicRoot:        DefaultMusicRoot,
		DatabasePath:     DefaultDatabasePath,
		ScanInterval:     DefaultScanInterval,
		RedisAddr:        DefaultRedisAddr,
		RedisDB:          DefaultRedisDB,
		RedisPrefix:      DefaultRedisPrefix,
		CacheTTL:         DefaultCacheTTL,
		SnapshotPrefix:   DefaultSnapshotPrefix,
		NormalQueueLimit: DefaultNormalQueueLimit,
		SkewThreshold:    DefaultSkewThreshold,
		ShutdownTimeout:  DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if musicRoot := os.Getenv("MUSIC_ROOT"); musicRoot != "" {
		c.MusicRoot = musicRoot
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.DatabasePath = dbPath
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.RedisAddr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.RedisPassword = password
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.RedisPrefix = prefix
	}
	if bucketURL := os.Getenv("SNAPSHOT_BUCKET_URL"); bucketURL != "" {
		c.SnapshotBucketURL = bucketURL
	}
	if prefix := os.Getenv("SNAPSHOT_PREFIX"); prefix != "" {
		c.SnapshotPrefix = prefix
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("REDIS_DB", &c.RedisDB, 0, 15); err != nil {
		return err
	}
	if err := loadEnvInt(
		"NORMAL_QUEUE_LIMIT", &c.NormalQueueLimit, 0, MaxNormalQueueLimit,
	); err != nil {
		return err
	}

	if err := loadEnvDuration("SCAN_INTERVAL", &c.ScanInterval); err != nil {
		return err
	}
	if err := loadEnvDuration("SKEW_THRESHOLD", &c.SkewThreshold); err != nil {
		return err
	}
	if err := loadEnvDuration("CACHE_TTL", &c.CacheTTL); err != nil {
		return err
	}
	return loadEnvDuration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.MusicRoot == "" {
		return ErrMissingMusicRoot
	}
	if c.DatabasePath == "" {
		return ErrMissingDatabasePath
	}
	if c.ScanInterval <= 0 || c.ScanInterval > MaxScanInterval {
		return fmt.Errorf("%w: %s", ErrInvalidScanInterval, c.ScanInterval)
	}
	if c.NormalQueueLimit <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQueueLimit, c.NormalQueueLimit)
	}
	return nil
}

func loadEnvInt(name string, target *int, min, max int) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if val < min || val > max {
		return fmt.Errorf("%s out of range: %d", name, val)
	}
	*target = val
	return nil
}

func loadEnvDuration(name string, target *time.Duration) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if val <= 0 {
		return fmt.Errorf("%s must be positive: %s", name, val)
	}
	*target = val
	return nil
}
