// Package snapshot exports and imports library snapshots through blob
// storage
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/quaver-audio/quaver/internal/library"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

type (
	// Snapshot is a point-in-time JSON image of the library: every track
	// plus every registered virtual library
	Snapshot struct {
		TakenAt   time.Time                `json:"taken_at"`
		Tracks    []library.Track          `json:"tracks"`
		Libraries []library.VirtualLibrary `json:"libraries"`
	}

	// BlobStore reads and writes snapshots via gocloud.dev/blob,
	// supporting S3, GCS, Azure Blob Storage, and S3-compatible stores
	BlobStore struct {
		bucket *blob.Bucket
		prefix string
	}
)

// ErrSnapshotNotFound is returned by Get for an unknown snapshot name
var ErrSnapshotNotFound = errors.New("snapshot not found")

// NewBlobStore opens the bucket named by bucketURL and stores snapshots
// under the given key prefix
func NewBlobStore(
	ctx context.Context, bucketURL, prefix string,
) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return &BlobStore{bucket: bucket, prefix: prefix}, nil
}

// Take builds a snapshot from the current library contents
func Take(ctx context.Context, store *library.Store) (*Snapshot, error) {
	tracks, err := store.Tracks(ctx)
	if err != nil {
		return nil, err
	}
	libs, err := store.Libraries(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		TakenAt:   time.Now().UTC(),
		Tracks:    tracks,
		Libraries: libs,
	}, nil
}

// Restore writes a snapshot's contents back into the library. Tracks are
// upserted by path; virtual libraries are re-registered by name, skipping
// names that already exist
func Restore(
	ctx context.Context, store *library.Store, snap *Snapshot,
) error {
	for i := range snap.Tracks {
		track := snap.Tracks[i]
		track.ID = 0
		if _, err := store.UpsertTrack(ctx, &track); err != nil {
			return err
		}
	}
	for _, lib := range snap.Libraries {
		_, err := store.RegisterLibrary(ctx, lib.Name, lib.Predicate)
		if err != nil && !errors.Is(err, library.ErrLibraryExists) {
			return err
		}
	}
	return nil
}

// Put stores the snapshot under the given name
func (s *BlobStore) Put(
	ctx context.Context, name string, snap *Snapshot,
) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.bucket.WriteAll(ctx, s.keyFor(name), data, nil)
}

// Get retrieves the snapshot stored under the given name
func (s *BlobStore) Get(
	ctx context.Context, name string,
) (*Snapshot, error) {
	data, err := s.bucket.ReadAll(ctx, s.keyFor(name))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Delete removes the snapshot stored under the given name. Deleting a
// missing snapshot is not an error
func (s *BlobStore) Delete(ctx context.Context, name string) error {
	err := s.bucket.Delete(ctx, s.keyFor(name))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// Close releases the underlying bucket
func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func (s *BlobStore) keyFor(name string) string {
	return s.prefix + name + ".json"
}
