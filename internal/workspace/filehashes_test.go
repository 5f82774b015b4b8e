package workspace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileHashStore_SetAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file_hashes.json")

	s, err := newFileHashStore(path)
	require.NoError(t, err)

	s.Set("a.go", "hash-a")
	s.Set("b.go", "hash-b")
	require.NoError(t, s.Save())

	reloaded, err := newFileHashStore(path)
	require.NoError(t, err)
	h, ok := reloaded.Hash("a.go")
	require.True(t, ok)
	require.Equal(t, "hash-a", h)
}

func TestFileHashStore_DeleteRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	s, err := newFileHashStore(filepath.Join(dir, "file_hashes.json"))
	require.NoError(t, err)

	s.Set("a.go", "hash-a")
	s.Delete("a.go")
	_, ok := s.Hash("a.go")
	require.False(t, ok)
}

func TestFileHashStore_SaveIsNoopWhenClean(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file_hashes.json")
	s, err := newFileHashStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Save())
	require.Empty(t, s.Paths())
}

func TestFileHashStore_MissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := newFileHashStore(filepath.Join(dir, "does-not-exist.json"))
	require.NoError(t, err)
	require.Empty(t, s.Paths())
}

func TestFileHashStore_ResetClearsState(t *testing.T) {
	dir := t.TempDir()
	s, err := newFileHashStore(filepath.Join(dir, "file_hashes.json"))
	require.NoError(t, err)

	s.Set("a.go", "hash-a")
	s.reset()
	require.Empty(t, s.Paths())
}
