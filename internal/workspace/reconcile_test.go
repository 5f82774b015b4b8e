package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semcore/internal/config"
)

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace.CacheDir = dir
	cfg.Embedder.Model = "BAAI/bge-small-en-v1.5"
	cfg.Embedder.Dimension = 384
	return cfg
}

func TestReconcileModelIdentity_FirstRunWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	hashes, err := newFileHashStore(filepath.Join(dir, fileHashesFileName))
	require.NoError(t, err)

	require.NoError(t, reconcileModelIdentity(cfg, hashes))

	data, err := os.ReadFile(filepath.Join(dir, modelIDFileName))
	require.NoError(t, err)
	require.Equal(t, "BAAI/bge-small-en-v1.5\t384", string(data))
}

func TestReconcileModelIdentity_SameIdentityIsNoop(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	hashes, err := newFileHashStore(filepath.Join(dir, fileHashesFileName))
	require.NoError(t, err)

	require.NoError(t, reconcileModelIdentity(cfg, hashes))
	hashes.Set("a.go", "hash-a")
	require.NoError(t, hashes.Save())

	require.NoError(t, reconcileModelIdentity(cfg, hashes))
	_, ok := hashes.Hash("a.go")
	require.True(t, ok, "hashes must survive a reconcile against an unchanged model identity")
}

func TestReconcileModelIdentity_MismatchWipesState(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	hashes, err := newFileHashStore(filepath.Join(dir, fileHashesFileName))
	require.NoError(t, err)
	require.NoError(t, reconcileModelIdentity(cfg, hashes))

	hashes.Set("a.go", "hash-a")
	require.NoError(t, hashes.Save())
	require.NoError(t, os.WriteFile(filepath.Join(dir, mmapFileName), []byte("stale"), 0o600))

	cfg.Embedder.Dimension = 768
	require.NoError(t, reconcileModelIdentity(cfg, hashes))

	require.Empty(t, hashes.Paths())
	_, err = os.Stat(filepath.Join(dir, mmapFileName))
	require.True(t, os.IsNotExist(err), "stale mmap store must be removed on model mismatch")

	data, err := os.ReadFile(filepath.Join(dir, modelIDFileName))
	require.NoError(t, err)
	require.Equal(t, "BAAI/bge-small-en-v1.5\t768", string(data))
}
