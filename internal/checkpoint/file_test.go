package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarmap/citemap-cli/internal/model"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFile(filepath.Join(t.TempDir(), "run"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func testProgress() *model.Progress {
	p := model.NewProgress()
	p.Cursor = 2
	p.Results = []model.AffiliationRecord{
		{AuthorName: "Alice", CitingPaper: "p1", CitedPaper: "c1", Affiliation: "MIT"},
	}
	p.SetSatisfied(map[int]struct{}{0: {}, 1: {}})
	p.Pending = []model.PendingItem{
		{Index: 2, Item: model.WorkItem{AuthorID: "b2", CitingPaper: "p2", CitedPaper: "c1"}},
	}
	return p
}

func TestFileStore_LoadMissing(t *testing.T) {
	s := newTestFileStore(t)

	p, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFileStore_SaveLoadClear(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testProgress()))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Cursor)
	assert.Equal(t, []int{0, 1}, got.Satisfied)
	require.Len(t, got.Pending, 1)
	assert.Equal(t, "b2", got.Pending[0].Item.AuthorID)

	require.NoError(t, s.ClearProgress(ctx))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	for range 5 {
		require.NoError(t, s.Save(ctx, testProgress()))
	}

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestFileStore_FinalRoundTrip(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadFinal(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	records := []model.AffiliationRecord{
		{AuthorName: "Alice", CitingPaper: "p1", CitedPaper: "c1", Affiliation: "MIT"},
		{AuthorName: "Carl", CitingPaper: "p2", CitedPaper: "c1", Affiliation: "MIT"},
	}
	require.NoError(t, s.CommitFinal(ctx, records))

	got, ok, err := s.LoadFinal(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, records, got)
}

func TestFileStore_CommitFinalEmptySet(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitFinal(ctx, nil))

	got, ok, err := s.LoadFinal(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "an empty committed set is still committed")
	assert.Empty(t, got)
}

func TestFileStore_LockExcludesSecondRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")

	s1, err := NewFile(dir)
	require.NoError(t, err)

	_, err = NewFile(dir)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, s1.Close())

	s2, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestFileStore_ReopenAfterCrash(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	ctx := context.Background()

	s1, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Save(ctx, testProgress()))

	// A hard crash never calls Close; dropping the descriptor is how the
	// kernel sees a dead holder, and it releases the flock with it.
	require.NoError(t, s1.lock.Close())

	s2, err := NewFile(dir)
	require.NoError(t, err, "restart must not be blocked by the crashed run")
	t.Cleanup(func() { s2.Close() }) //nolint:errcheck

	got, err := s2.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got, "snapshot survives the crash")
	assert.Equal(t, 2, got.Cursor)
}

func TestFileStore_StaleLockFileDoesNotBlock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, lockFile), []byte("999999\n"), 0o644))

	s, err := NewFile(dir)
	require.NoError(t, err, "a leftover lock file without a live flock is not a lock")
	require.NoError(t, s.Close())
}
