package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"contact-radar/internal/accumulate"
	"contact-radar/internal/blob"
	"contact-radar/internal/model"
	"contact-radar/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func setup(t *testing.T) (*Store, *storage.Store, blob.Store) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.NewStore(storage.Config{DSN: filepath.Join(dir, "contacts.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	blobs, err := blob.NewFSStore(filepath.Join(dir, "blobs"), blob.NewSigner("k", ""))
	require.NoError(t, err)

	require.NoError(t, db.CreateJob(context.Background(), &model.Job{ID: "job-1", State: model.JobStateProcessing, LastMergedIndex: -1}))
	return NewStore(db, blobs, DefaultInlineThreshold, arbor.NewLogger()), db, blobs
}

func records(n int) []model.Record {
	out := make([]model.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Record{"place_id": fmt.Sprintf("p%d", i), "name": fmt.Sprintf("Biz %d", i)})
	}
	return out
}

func TestSaveInlineBelowThreshold(t *testing.T) {
	t.Parallel()

	store, db, _ := setup(t)
	ctx := context.Background()

	path, err := store.Save(ctx, "job-1", accumulate.NewSet(records(4999)...), 4999)
	require.NoError(t, err)
	assert.Empty(t, path)

	p, err := db.LoadProgress(ctx, "job-1")
	require.NoError(t, err)
	assert.NotEmpty(t, p.Snapshot)
	assert.Equal(t, 4999, p.Count)

	set, offset := store.Load(ctx, "job-1")
	assert.Equal(t, 4999, set.Len())
	assert.Equal(t, 4999, offset)
}

func TestSaveCountOnlyAtThreshold(t *testing.T) {
	t.Parallel()

	store, db, _ := setup(t)
	ctx := context.Background()
	set := accumulate.NewSet(records(5000)...)

	path, err := store.Save(ctx, "job-1", set, 5200)
	require.NoError(t, err)
	assert.Equal(t, blob.CheckpointPath("job-1"), path)

	p, err := db.LoadProgress(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, p.Snapshot)
	assert.Equal(t, 5000, p.Count)

	loaded, offset := store.Load(ctx, "job-1")
	assert.Equal(t, 5000, loaded.Len())
	assert.Equal(t, 5200, offset)
}

func TestLoadFallsBackToCheckpoint(t *testing.T) {
	t.Parallel()

	store, db, blobs := setup(t)
	ctx := context.Background()

	set, offset := store.Load(ctx, "job-1")
	assert.Zero(t, set.Len())
	assert.Zero(t, offset)

	require.NoError(t, blobs.Put(ctx, blob.CheckpointPath("job-1"), strings.NewReader(`[{"place_id":"a"},{"place_id":"b"}]`), "application/json"))
	require.NoError(t, db.UpdateProgress(ctx, "job-1", storage.Progress{Snapshot: []byte(`{"broken":true}`), Offset: 7}))

	set, offset = store.Load(ctx, "job-1")
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, 7, offset)
}

func TestLoadCorruptCheckpointStartsEmpty(t *testing.T) {
	t.Parallel()

	store, _, blobs := setup(t)
	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, blob.CheckpointPath("job-1"), strings.NewReader(`nope`), "application/json"))

	set, _ := store.Load(ctx, "job-1")
	assert.Zero(t, set.Len())

	set, offset := store.Load(ctx, "unknown")
	assert.Zero(t, set.Len())
	assert.Zero(t, offset)
}

func TestSaveMissingJob(t *testing.T) {
	t.Parallel()

	store, _, _ := setup(t)
	_, err := store.Save(context.Background(), "gone", accumulate.NewSet(), 0)
	assert.ErrorIs(t, err, storage.ErrJobNotFound)
}

func TestSaveAboveThresholdKeepsEveryMerge(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	db, err := storage.NewStore(storage.Config{DSN: filepath.Join(dir, "contacts.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	blobs, err := blob.NewFSStore(filepath.Join(dir, "blobs"), blob.NewSigner("k", ""))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, db.CreateJob(ctx, &model.Job{ID: "job-1", State: model.JobStateProcessing, LastMergedIndex: -1}))

	store := NewStore(db, blobs, 3, arbor.NewLogger())
	all := records(12)

	set, _ := store.Load(ctx, "job-1")
	for i := 0; i < len(all); i += 4 {
		set.Merge(all[i : i+4])
		_, err := store.Save(ctx, "job-1", set, i+4)
		require.NoError(t, err)

		set, _ = store.Load(ctx, "job-1")
		assert.Equal(t, i+4, set.Len())
	}

	p, err := db.LoadProgress(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, p.Snapshot)
	assert.Equal(t, 12, p.Count)
}

func TestSaveCheckpointFailureKeepsInlineUntouched(t *testing.T) {
	t.Parallel()

	_, db, _ := setup(t)
	ctx := context.Background()
	store := NewStore(db, failingBlobs{}, 2, arbor.NewLogger())

	_, err := store.Save(ctx, "job-1", accumulate.NewSet(records(1)...), 1)
	require.NoError(t, err)

	_, err = store.Save(ctx, "job-1", accumulate.NewSet(records(5)...), 5)
	require.Error(t, err)

	p, err := db.LoadProgress(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Count)
	assert.NotEmpty(t, p.Snapshot)
}

// --- stubs ---

type failingBlobs struct{ blob.Store }

func (failingBlobs) Put(context.Context, string, io.Reader, string) error {
	return errors.New("bucket unavailable")
}
