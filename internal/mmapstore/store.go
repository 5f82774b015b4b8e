// Package mmapstore implements the Tier-3 cold cache: a fixed-slot file,
// memory-mapped once at open time, that holds
// compressed embedding blobs too numerous (or too cold) for the in-process
// tiers to keep resident. Slots are fixed size so the free-list never needs
// to compact the file, and the {used, len} slot prefix is updated with
// atomic stores so Load never takes a lock on the hot read path.
package mmapstore

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// Store is a single-writer-many-reader fixed-slot mmap file. One Store
// instance owns one file; callers needing several stores (e.g. one per
// workspace) open several instances.
type Store struct {
	file *os.File
	data []byte // mmap'd region, headerSize + slotCount*maxSlotBytes bytes

	slotCount    uint32
	maxSlotBytes uint32
	dimension    uint32

	mu       sync.RWMutex // guards free and freeHint; slot payload writes do not take it
	free     []bool       // true where slot is free; rebuilt from disk at Open
	freeHint uint32       // next slot index to probe for a free slot
}

// Options configures a new store file at Open/Create time.
type Options struct {
	SlotCount    uint32
	MaxSlotBytes uint32
	Dimension    uint32
}

// Create initializes a new store file at path with the given geometry and
// opens it. The file is pre-truncated to its full size up front: mmap
// requires a backing size, and the fixed-slot design never grows it.
func Create(path string, opts Options) (*Store, error) {
	if opts.MaxSlotBytes <= slotHeaderBytes || opts.MaxSlotBytes%8 != 0 {
		return nil, semerr.Newf(semerr.Config, "mmapstore: max_slot_bytes must be a multiple of 8 greater than %d", slotHeaderBytes)
	}
	if opts.SlotCount == 0 {
		return nil, semerr.Newf(semerr.Config, "mmapstore: slot_count must be > 0")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, semerr.New(semerr.Io, fmt.Errorf("creating mmap store %s: %w", path, err))
	}

	totalSize := int64(headerSize) + int64(opts.SlotCount)*int64(opts.MaxSlotBytes)
	if err := f.Truncate(totalSize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, semerr.New(semerr.Io, fmt.Errorf("sizing mmap store %s: %w", path, err))
	}

	h := header{Version: 1, SlotCount: opts.SlotCount, MaxSlotBytes: opts.MaxSlotBytes, Dimension: opts.Dimension}
	if _, err := f.WriteAt(encodeHeader(h), 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, semerr.New(semerr.Io, fmt.Errorf("writing header %s: %w", path, err))
	}

	f.Close()
	return Open(path)
}

// Open mmaps an existing store file and rebuilds its in-memory free-slot
// index by scanning every slot's used flag. Allocate may also probe every
// slot when few are free.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, semerr.New(semerr.Io, fmt.Errorf("opening mmap store %s: %w", path, err))
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, semerr.New(semerr.Io, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, semerr.New(semerr.Io, fmt.Errorf("mmap %s: %w", path, err))
	}

	h, err := decodeHeader(data)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, semerr.New(semerr.Storage, err)
	}

	want := int64(headerSize) + int64(h.SlotCount)*int64(h.MaxSlotBytes)
	if want != info.Size() {
		unix.Munmap(data)
		f.Close()
		return nil, semerr.Newf(semerr.Storage, "mmap store %s: size %d does not match header geometry %d", path, info.Size(), want)
	}

	s := &Store{
		file:         f,
		data:         data,
		slotCount:    h.SlotCount,
		maxSlotBytes: h.MaxSlotBytes,
		dimension:    h.Dimension,
		free:         make([]bool, h.SlotCount),
	}
	for i := uint32(0); i < h.SlotCount; i++ {
		s.free[i] = atomic.LoadUint32(s.usedPtr(i)) == slotFree
	}
	return s, nil
}

// Dimension reports the embedding dimension this store was created for.
func (s *Store) Dimension() uint32 { return s.dimension }

// SlotCount reports the fixed number of slots in the file.
func (s *Store) SlotCount() uint32 { return s.slotCount }

func (s *Store) slotOffset(id uint32) int {
	return headerSize + int(id)*int(s.maxSlotBytes)
}

func (s *Store) usedPtr(id uint32) *uint32 {
	off := s.slotOffset(id)
	return (*uint32)(unsafe.Pointer(&s.data[off]))
}

func (s *Store) lenPtr(id uint32) *uint32 {
	off := s.slotOffset(id)
	return (*uint32)(unsafe.Pointer(&s.data[off+4]))
}

func (s *Store) payload(id uint32) []byte {
	off := s.slotOffset(id) + slotHeaderBytes
	capBytes := int(s.maxSlotBytes) - slotHeaderBytes
	return s.data[off : off+capBytes : off+capBytes]
}

// Allocate reserves a free slot and returns its id. Callers store into it
// with Store and release it with Free when the entry is evicted.
func (s *Store) Allocate() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := uint32(0); i < s.slotCount; i++ {
		id := (s.freeHint + i) % s.slotCount
		if s.free[id] {
			s.free[id] = false
			s.freeHint = id + 1
			return id, nil
		}
	}
	return 0, semerr.New(semerr.Storage, fmt.Errorf("mmapstore: no free slots (capacity %d exhausted)", s.slotCount))
}

// Store writes blob into slot id. The caller must own id (via Allocate) and
// must not call Store concurrently on the same id — the single-writer
// invariant this store assumes. Writers and readers of different slots
// never contend.
func (s *Store) Store(id uint32, blob []byte) error {
	if int(id) >= int(s.slotCount) {
		return semerr.Newf(semerr.Storage, "mmapstore: slot %d out of range", id)
	}
	capBytes := int(s.maxSlotBytes) - slotHeaderBytes
	if len(blob) > capBytes {
		return semerr.Newf(semerr.Storage, "mmapstore: blob of %d bytes exceeds slot capacity %d", len(blob), capBytes)
	}

	copy(s.payload(id), blob)
	// len is published after the payload write so a concurrent Load never
	// observes a length pointing at not-yet-written bytes.
	atomic.StoreUint32(s.lenPtr(id), uint32(len(blob)))
	atomic.StoreUint32(s.usedPtr(id), slotUsed)
	return nil
}

// Load reads the blob currently stored in slot id. It never locks: it reads
// the published length, then copies exactly that many payload bytes.
func (s *Store) Load(id uint32) ([]byte, error) {
	if int(id) >= int(s.slotCount) {
		return nil, semerr.Newf(semerr.Storage, "mmapstore: slot %d out of range", id)
	}
	if atomic.LoadUint32(s.usedPtr(id)) == slotFree {
		return nil, semerr.Newf(semerr.Storage, "mmapstore: slot %d is free", id)
	}

	n := atomic.LoadUint32(s.lenPtr(id))
	capBytes := uint32(s.maxSlotBytes) - slotHeaderBytes
	if n > capBytes {
		return nil, semerr.Newf(semerr.Storage, "mmapstore: slot %d reports length %d beyond capacity %d", id, n, capBytes)
	}

	out := make([]byte, n)
	copy(out, s.payload(id)[:n])
	return out, nil
}

// Free marks slot id free again. Callers must ensure no Load is racing a
// Free on the same id; in practice the cache tier only frees a slot after
// evicting its index entry, so no new Load can start.
func (s *Store) Free(id uint32) error {
	if int(id) >= int(s.slotCount) {
		return semerr.Newf(semerr.Storage, "mmapstore: slot %d out of range", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	atomic.StoreUint32(s.usedPtr(id), slotFree)
	atomic.StoreUint32(s.lenPtr(id), 0)
	s.free[id] = true
	return nil
}

// Flush forces the mmap'd pages to disk. Callers on a cadence (e.g. after
// every N stores, or on a timer) call this rather than relying on the OS to
// schedule writeback, trading some write throughput for a bounded durability
// window.
func (s *Store) Flush() error {
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return semerr.New(semerr.Io, fmt.Errorf("msync: %w", err))
	}
	return nil
}

// Close flushes and unmaps the store. The underlying file is left in place.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if err := unix.Munmap(s.data); err != nil {
		s.file.Close()
		return semerr.New(semerr.Io, fmt.Errorf("munmap: %w", err))
	}
	return s.file.Close()
}
