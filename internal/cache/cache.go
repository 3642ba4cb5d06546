// Package cache holds frequently-read status in Redis so the HTTP surface
// does not hit the library database on every poll
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quaver-audio/quaver/internal/events"
	"github.com/quaver-audio/quaver/internal/library"
)

type (
	// Cache is a thin typed layer over a Redis client
	Cache struct {
		rdb    *redis.Client
		prefix string
		ttl    time.Duration
	}

	// ScanStatus is the cached outcome of the most recent library scan
	ScanStatus struct {
		CompletedAt time.Time         `json:"completed_at"`
		Result      events.ScanResult `json:"result"`
	}
)

// ErrNotCached is returned when a requested key has no cached value
var ErrNotCached = errors.New("value not cached")

// New creates a cache over the given Redis endpoint
func New(addr, password string, db int, prefix string, ttl time.Duration) *Cache {
	return &Cache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// Ping verifies the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the Redis client
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// SetScanStatus records the most recent scan outcome
func (c *Cache) SetScanStatus(ctx context.Context, st *ScanStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key("scan_status"), data, c.ttl).Err()
}

// ScanStatus returns the most recent scan outcome, or ErrNotCached
func (c *Cache) ScanStatus(ctx context.Context) (*ScanStatus, error) {
	data, err := c.rdb.Get(ctx, c.key("scan_status")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, err
	}

	var st ScanStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetMemberCount caches a virtual library's member count
func (c *Cache) SetMemberCount(
	ctx context.Context, id library.LibraryID, count int,
) error {
	return c.rdb.Set(ctx, c.memberKey(id), count, c.ttl).Err()
}

// MemberCount returns a virtual library's cached member count, or
// ErrNotCached
func (c *Cache) MemberCount(
	ctx context.Context, id library.LibraryID,
) (int, error) {
	n, err := c.rdb.Get(ctx, c.memberKey(id)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotCached
	}
	return n, err
}

// InvalidateMemberCount drops a virtual library's cached member count
func (c *Cache) InvalidateMemberCount(
	ctx context.Context, id library.LibraryID,
) error {
	return c.rdb.Del(ctx, c.memberKey(id)).Err()
}

func (c *Cache) key(suffix string) string {
	return c.prefix + ":" + suffix
}

func (c *Cache) memberKey(id library.LibraryID) string {
	return c.key("members:" + string(id))
}
