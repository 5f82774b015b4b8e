package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// fileHashStore implements orchestrator.HashStore: the durable record of
// every indexed path's last-seen file_hash. Saves are atomic
// temp-file-then-rename writes, never writing the live file in place, so
// a crash mid-save can never leave a truncated or half-written
// file_hashes.json behind.
type fileHashStore struct {
	path string

	mu    sync.RWMutex
	byPath map[string]string
	dirty bool
}

// newFileHashStore loads path if it exists, or starts empty otherwise.
func newFileHashStore(path string) (*fileHashStore, error) {
	s := &fileHashStore{path: path, byPath: map[string]string{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, semerr.New(semerr.Io, fmt.Errorf("reading %s: %w", path, err))
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.byPath); err != nil {
			return nil, semerr.New(semerr.Io, fmt.Errorf("parsing %s: %w", path, err))
		}
	}
	return s, nil
}

// Hash implements orchestrator.HashStore and scanner.HashLookup.
func (s *fileHashStore) Hash(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.byPath[path]
	return h, ok
}

// Set implements orchestrator.HashStore.
func (s *fileHashStore) Set(path, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPath[path] = hash
	s.dirty = true
}

// Delete implements orchestrator.HashStore.
func (s *fileHashStore) Delete(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byPath, path)
	s.dirty = true
}

// reset clears every tracked hash in place, without copying the mutex,
// used when reconcileModelIdentity detects a model/dimension change.
func (s *fileHashStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPath = map[string]string{}
	s.dirty = false
}

// Paths returns a snapshot of every currently-tracked path, used by
// stale-path deletion after a scan.
func (s *fileHashStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byPath))
	for p := range s.byPath {
		out = append(out, p)
	}
	return out
}

// Save implements orchestrator.HashStore: write a temp file in the same
// directory, fsync it, then rename over the live path. The rename is
// atomic on every POSIX filesystem and on NTFS, so readers never observe a
// partially-written file.
func (s *fileHashStore) Save() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := json.Marshal(s.byPath)
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return semerr.New(semerr.Io, fmt.Errorf("marshaling file hashes: %w", err))
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".file_hashes.*.tmp")
	if err != nil {
		return semerr.New(semerr.Io, fmt.Errorf("creating temp file hashes file: %w", err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return semerr.New(semerr.Io, fmt.Errorf("writing temp file hashes file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return semerr.New(semerr.Io, fmt.Errorf("syncing temp file hashes file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return semerr.New(semerr.Io, fmt.Errorf("closing temp file hashes file: %w", err))
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return semerr.New(semerr.Io, fmt.Errorf("renaming %s to %s: %w", tmpPath, s.path, err))
	}
	return nil
}
