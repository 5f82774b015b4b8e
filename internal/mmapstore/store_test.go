package mmapstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, slotCount, maxSlotBytes uint32) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tier3.bin")
	s, err := Create(path, Options{SlotCount: slotCount, MaxSlotBytes: maxSlotBytes, Dimension: 384})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t, 8, 64)

	id, err := s.Allocate()
	require.NoError(t, err)

	want := []byte("hello tier-3")
	require.NoError(t, s.Store(id, want))

	got, err := s.Load(id)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestAllocateExhaustsCapacity(t *testing.T) {
	s := newTestStore(t, 2, 64)

	_, err := s.Allocate()
	require.NoError(t, err)
	_, err = s.Allocate()
	require.NoError(t, err)

	_, err = s.Allocate()
	require.Error(t, err)
}

func TestFreeReclaimsSlot(t *testing.T) {
	s := newTestStore(t, 1, 64)

	id, err := s.Allocate()
	require.NoError(t, err)
	require.NoError(t, s.Store(id, []byte("x")))

	require.NoError(t, s.Free(id))

	id2, err := s.Allocate()
	require.NoError(t, err)
	require.Equal(t, id, id2)

	_, err = s.Load(id2)
	require.Error(t, err, "freed slot must report used=false until Store is called again")
}

func TestStoreRejectsOversizedBlob(t *testing.T) {
	s := newTestStore(t, 1, 16)
	id, err := s.Allocate()
	require.NoError(t, err)

	err = s.Store(id, make([]byte, 64))
	require.Error(t, err)
}

func TestOpenRebuildsFreeListFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.bin")
	s, err := Create(path, Options{SlotCount: 4, MaxSlotBytes: 32, Dimension: 8})
	require.NoError(t, err)

	id, err := s.Allocate()
	require.NoError(t, err)
	require.NoError(t, s.Store(id, []byte("persisted")))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(id)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), got)

	// The other three slots must still be reported free.
	for i := uint32(0); i < 4; i++ {
		if i == id {
			continue
		}
		_, err := reopened.Load(i)
		require.Error(t, err)
	}
}

func TestCreateRejectsBadGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	_, err := Create(path, Options{SlotCount: 1, MaxSlotBytes: 3, Dimension: 8})
	require.Error(t, err)

	_, err = Create(path, Options{SlotCount: 0, MaxSlotBytes: 32, Dimension: 8})
	require.Error(t, err)
}
