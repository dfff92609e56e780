package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schuttebj/linc-print-backend/internal/platform/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(t.TempDir(), logger.Nop())
	require.NoError(t, err)
	return st
}

func TestJobDirLayout(t *testing.T) {
	st := newTestStore(t)
	id := uuid.New()
	created := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)

	dir := st.JobDir(id, created)
	assert.Equal(t, filepath.Join(st.Root(), "2026", "03", "07", id.String()), dir)
}

func TestSaveAndRetrieve(t *testing.T) {
	st := newTestStore(t)
	id := uuid.New()
	created := time.Now()

	rel, err := st.Save(id, created, ArtifactFrontImage, []byte("png bytes"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(created.Format("2006/01/02"), id.String(), "front.png"), rel)

	data, err := st.Retrieve(id, created, ArtifactFrontImage)
	require.NoError(t, err)
	assert.Equal(t, []byte("png bytes"), data)

	// Saving again replaces.
	_, err = st.Save(id, created, ArtifactFrontImage, []byte("newer"))
	require.NoError(t, err)
	data, err = st.Retrieve(id, created, ArtifactFrontImage)
	require.NoError(t, err)
	assert.Equal(t, []byte("newer"), data)
}

func TestRetrieveMissing(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Retrieve(uuid.New(), time.Now(), ArtifactBackPDF)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.Retrieve(uuid.New(), time.Now(), ArtifactKind("selfie"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDeleteAllCountsAndPrunes(t *testing.T) {
	st := newTestStore(t)
	id := uuid.New()
	created := time.Now()

	_, err := st.Save(id, created, ArtifactFrontImage, []byte("12345"))
	require.NoError(t, err)
	_, err = st.Save(id, created, ArtifactCombinedPDF, []byte("1234567890"))
	require.NoError(t, err)

	res, err := st.DeleteAll(id, created)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesDeleted)
	assert.Equal(t, int64(15), res.BytesFreed)
	assert.Equal(t, 3, res.EmptyDirsPruned)

	assert.True(t, st.VerifyRemoved(id, created))

	// The whole date partition is gone.
	entries, err := os.ReadDir(st.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteAllKeepsSharedParents(t *testing.T) {
	st := newTestStore(t)
	created := time.Now()
	first, second := uuid.New(), uuid.New()

	_, err := st.Save(first, created, ArtifactFrontImage, []byte("a"))
	require.NoError(t, err)
	_, err = st.Save(second, created, ArtifactFrontImage, []byte("b"))
	require.NoError(t, err)

	res, err := st.DeleteAll(first, created)
	require.NoError(t, err)
	assert.Equal(t, 0, res.EmptyDirsPruned)

	// The sibling is untouched.
	data, err := st.Retrieve(second, created, ArtifactFrontImage)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)
}

func TestDeleteAllMissingIsNoOp(t *testing.T) {
	st := newTestStore(t)

	res, err := st.DeleteAll(uuid.New(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, res.FilesDeleted)
	assert.Zero(t, res.BytesFreed)
}

func TestVerifyPresent(t *testing.T) {
	st := newTestStore(t)
	id := uuid.New()
	created := time.Now()

	assert.False(t, st.VerifyPresent(id, created))

	for kind := range map[ArtifactKind]bool{
		ArtifactFrontImage: true, ArtifactBackImage: true,
		ArtifactFrontPDF: true, ArtifactBackPDF: true,
	} {
		_, err := st.Save(id, created, kind, []byte("x"))
		require.NoError(t, err)
	}
	// One artifact short.
	assert.False(t, st.VerifyPresent(id, created))

	_, err := st.Save(id, created, ArtifactCombinedPDF, []byte("x"))
	require.NoError(t, err)
	assert.True(t, st.VerifyPresent(id, created))
}

func TestWalkJobDirs(t *testing.T) {
	st := newTestStore(t)
	created := time.Now()

	want := map[uuid.UUID]bool{}
	for i := 0; i < 3; i++ {
		id := uuid.New()
		_, err := st.Save(id, created, ArtifactFrontImage, []byte("x"))
		require.NoError(t, err)
		want[id] = true
	}

	// Non-uuid entries are skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(st.Root(), created.Format("2006/01/02"), "lost+found"), 0o755))

	seen := map[uuid.UUID]bool{}
	err := st.WalkJobDirs(context.Background(), func(ref JobDirRef) error {
		seen[ref.JobID] = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, seen)
}

func TestWalkJobDirsHonorsContext(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Save(uuid.New(), time.Now(), ArtifactFrontImage, []byte("x"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = st.WalkJobDirs(ctx, func(ref JobDirRef) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStats(t *testing.T) {
	st := newTestStore(t)
	created := time.Now()

	for i := 0; i < 2; i++ {
		id := uuid.New()
		_, err := st.Save(id, created, ArtifactFrontImage, []byte("1234"))
		require.NoError(t, err)
		_, err = st.Save(id, created, ArtifactBackImage, []byte("12"))
		require.NoError(t, err)
	}

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.JobDirectories)
	assert.Equal(t, 4, stats.TotalFiles)
	assert.Equal(t, int64(12), stats.TotalBytes)
}
