package snapshot_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quaver-audio/quaver/internal/library"
	"github.com/quaver-audio/quaver/internal/snapshot"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

func openTestStore(t *testing.T) *library.Store {
	t.Helper()
	store, err := library.Open(
		filepath.Join(t.TempDir(), "library.db"), nil,
	)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	bs, err := snapshot.NewBlobStore(ctx, "mem://", "snapshots/")
	assert.NoError(t, err)
	defer bs.Close()

	_, err = bs.Get(ctx, "nightly")
	assert.ErrorIs(t, err, snapshot.ErrSnapshotNotFound)

	store := openTestStore(t)
	_, err = store.UpsertTrack(ctx, &library.Track{
		Path:   "a.flac",
		Artist: "Miles Davis",
	})
	assert.NoError(t, err)
	_, err = store.RegisterLibrary(ctx, "Jazz", `artist ~= ""`)
	assert.NoError(t, err)

	snap, err := snapshot.Take(ctx, store)
	assert.NoError(t, err)
	assert.Len(t, snap.Tracks, 1)
	assert.Len(t, snap.Libraries, 1)
	assert.False(t, snap.TakenAt.IsZero())

	assert.NoError(t, bs.Put(ctx, "nightly", snap))

	got, err := bs.Get(ctx, "nightly")
	assert.NoError(t, err)
	assert.Len(t, got.Tracks, 1)
	assert.Equal(t, "Miles Davis", got.Tracks[0].Artist)

	assert.NoError(t, bs.Delete(ctx, "nightly"))
	assert.NoError(t, bs.Delete(ctx, "nightly"))
	_, err = bs.Get(ctx, "nightly")
	assert.ErrorIs(t, err, snapshot.ErrSnapshotNotFound)
}

func TestRestoreIntoEmptyStore(t *testing.T) {
	ctx := context.Background()

	source := openTestStore(t)
	_, err := source.UpsertTrack(ctx, &library.Track{
		Path: "b.mp3", Title: "Nardis",
	})
	assert.NoError(t, err)
	_, err = source.RegisterLibrary(ctx, "Everything", `true`)
	assert.NoError(t, err)

	snap, err := snapshot.Take(ctx, source)
	assert.NoError(t, err)

	target := openTestStore(t)
	assert.NoError(t, snapshot.Restore(ctx, target, snap))

	tracks, err := target.Tracks(ctx)
	assert.NoError(t, err)
	if assert.Len(t, tracks, 1) {
		assert.Equal(t, "Nardis", tracks[0].Title)
	}
	libs, err := target.Libraries(ctx)
	assert.NoError(t, err)
	assert.Len(t, libs, 1)

	// Restoring again is idempotent for both tracks and libraries
	assert.NoError(t, snapshot.Restore(ctx, target, snap))
	n, err := target.TrackCount(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	libs, err = target.Libraries(ctx)
	assert.NoError(t, err)
	assert.Len(t, libs, 1)
}