package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// IndexConfig controls when and how the embedded backend's ANN index is
// built.
type IndexConfig struct {
	NIndexThreshold int     // build once the table holds >= this many rows
	NumPartitions   int     // IVF partition count
	NumSubVectors   int     // PQ sub-vector count (kept for parity; embedded backend stores full vectors)
	RebuildFraction float64 // rebuild once inserted-since-build exceeds this fraction of table size
}

// DefaultIndexConfig returns the embedded backend's recommended defaults.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{NIndexThreshold: 1000, NumPartitions: 256, NumSubVectors: 48, RebuildFraction: 0.10}
}

// partition is one IVF bucket: a centroid and the row indices assigned to it.
type partition struct {
	centroid []float32
	rows     []int
}

// EmbeddedStore is the native backend: an in-memory columnar table with an
// IVF-style partition index built lazily once the table crosses
// NIndexThreshold rows. It never links against an external ANN library —
// partitioning is k-means-lite over random seed centroids, adequate for
// single-writer, moderate-scale workloads, with an exact brute-force
// fallback whenever the index is stale or absent.
//
// When opened with a non-empty persistPath, the row table is durable: every
// Upsert, DeleteByPaths, and Optimize call rewrites the whole table to disk
// as JSON via a temp-file-then-rename, the same atomic-save pattern
// fileHashStore uses for file_hashes.json, so the rows a caller sees after a
// restart always match the hashes the caller has on record for them.
type EmbeddedStore struct {
	mu  sync.RWMutex
	cfg IndexConfig
	dim int

	persistPath string

	rows    []Point          // row store, append-only slots; tombstoned rows have Deleted=true
	deleted []bool
	byID    map[string]int // id -> row index
	byPath  map[string][]int

	partitions       []partition
	indexed          bool
	insertedSinceIdx int
}

// NewEmbeddedStore builds an empty, in-memory-only table for a fixed
// embedding dimension. Rows are never written to disk; use
// OpenEmbeddedStore for a table that survives a process restart.
func NewEmbeddedStore(dim int, cfg IndexConfig) *EmbeddedStore {
	return &EmbeddedStore{
		cfg:    cfg,
		dim:    dim,
		byID:   make(map[string]int),
		byPath: make(map[string][]int),
	}
}

// embeddedSnapshot is the on-disk encoding of an EmbeddedStore's row table.
// byID and byPath are rebuilt from Rows on load rather than serialized.
type embeddedSnapshot struct {
	Dimension int     `json:"dimension"`
	Rows      []Point `json:"rows"`
	Deleted   []bool  `json:"deleted"`
}

// OpenEmbeddedStore builds a table for a fixed embedding dimension, loading
// any rows already persisted at path (if it exists) before returning.
// Every subsequent mutation is persisted back to path. path == "" behaves
// exactly like NewEmbeddedStore.
func OpenEmbeddedStore(path string, dim int, cfg IndexConfig) (*EmbeddedStore, error) {
	s := NewEmbeddedStore(dim, cfg)
	s.persistPath = path
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, semerr.New(semerr.Io, fmt.Errorf("reading %s: %w", path, err))
	}
	if len(data) == 0 {
		return s, nil
	}

	var snap embeddedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, semerr.New(semerr.Io, fmt.Errorf("parsing %s: %w", path, err))
	}
	if snap.Dimension != 0 && snap.Dimension != dim {
		return nil, semerr.Newf(semerr.DimensionMismatch, "persisted vector table at %s has dimension %d, store expects %d", path, snap.Dimension, dim)
	}

	s.rows = snap.Rows
	s.deleted = snap.Deleted
	for i, p := range s.rows {
		if s.deleted[i] {
			continue
		}
		s.byID[p.ID] = i
		s.byPath[p.Path] = append(s.byPath[p.Path], i)
	}
	s.maybeBuildOrRebuildLocked()
	return s, nil
}

func (s *EmbeddedStore) Dimension() int { return s.dim }

// Close flushes any pending rows to disk; a no-op for an in-memory-only
// store.
func (s *EmbeddedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *EmbeddedStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for i := range s.rows {
		if !s.deleted[i] {
			n++
		}
	}
	return n, nil
}

// Upsert replaces any row with a matching id, atomically with respect to
// other callers: the whole batch is applied under a single write lock, so
// readers never observe a partial batch.
func (s *EmbeddedStore) Upsert(ctx context.Context, points []Point) error {
	for i := range points {
		if len(points[i].Vector) != s.dim {
			return semerr.Newf(semerr.DimensionMismatch, "point %s has dimension %d, store expects %d", points[i].ID, len(points[i].Vector), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if idx, ok := s.byID[p.ID]; ok {
			s.removePathIndexLocked(s.rows[idx].Path, idx)
			s.rows[idx] = p
			s.deleted[idx] = false
		} else {
			idx = len(s.rows)
			s.rows = append(s.rows, p)
			s.deleted = append(s.deleted, false)
			s.byID[p.ID] = idx
		}
		s.byPath[p.Path] = append(s.byPath[p.Path], s.byID[p.ID])
		s.insertedSinceIdx++
	}

	s.maybeBuildOrRebuildLocked()
	return s.saveLocked()
}

func (s *EmbeddedStore) removePathIndexLocked(path string, idx int) {
	list := s.byPath[path]
	for i, v := range list {
		if v == idx {
			s.byPath[path] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// DeleteByPaths removes every row whose path is in paths.
func (s *EmbeddedStore) DeleteByPaths(ctx context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range paths {
		for _, idx := range s.byPath[path] {
			s.deleted[idx] = true
			delete(s.byID, s.rows[idx].ID)
		}
		delete(s.byPath, path)
	}
	return s.saveLocked()
}

// Search returns the top-k rows by cosine similarity, honoring filter.
// While the index is absent or being rebuilt, it falls back to an exact
// brute-force scan so queries always succeed.
func (s *EmbeddedStore) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]SearchResult, error) {
	if len(vector) != s.dim {
		return nil, semerr.Newf(semerr.DimensionMismatch, "query vector has dimension %d, store expects %d", len(vector), s.dim)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []int
	if s.indexed {
		candidates = s.candidatesFromPartitionsLocked(vector)
	} else {
		candidates = s.allLiveRowsLocked()
	}

	type scored struct {
		idx   int
		score float32
	}
	results := make([]scored, 0, len(candidates))
	for _, idx := range candidates {
		if s.deleted[idx] {
			continue
		}
		sim := cosineSimilarity(vector, s.rows[idx].Vector)
		if !filter.matches(&s.rows[idx], sim) {
			continue
		}
		results = append(results, scored{idx: idx, score: sim})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		p := s.rows[r.idx]
		out[i] = SearchResult{
			ID: p.ID, Path: p.Path, Content: p.Content, Language: p.Language,
			StartLine: p.StartLine, EndLine: p.EndLine, Score: r.score, Metadata: p.Metadata,
		}
	}
	return out, nil
}

func (s *EmbeddedStore) allLiveRowsLocked() []int {
	out := make([]int, 0, len(s.rows))
	for i := range s.rows {
		if !s.deleted[i] {
			out = append(out, i)
		}
	}
	return out
}

// candidatesFromPartitionsLocked visits every partition whose centroid is
// among the nearest to vector, a standard IVF probe (nprobe fixed at a
// small constant rather than configurable).
const nProbe = 8

func (s *EmbeddedStore) candidatesFromPartitionsLocked(vector []float32) []int {
	type scoredPart struct {
		idx   int
		score float32
	}
	scored := make([]scoredPart, len(s.partitions))
	for i, p := range s.partitions {
		scored[i] = scoredPart{idx: i, score: cosineSimilarity(vector, p.centroid)}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	probe := nProbe
	if probe > len(scored) {
		probe = len(scored)
	}

	var out []int
	for _, sp := range scored[:probe] {
		out = append(out, s.partitions[sp.idx].rows...)
	}
	return out
}

// Optimize compacts tombstoned rows and rebuilds the index if it is absent
// or past the rebuild threshold.
func (s *EmbeddedStore) Optimize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.compactLocked()
	s.maybeBuildOrRebuildLocked()
	s.insertedSinceIdx = 0
	return s.saveLocked()
}

// saveLocked writes the full row table to persistPath as a temp file,
// fsyncs it, then renames it over the live path, so a reader (the next
// OpenEmbeddedStore call) never observes a partially-written snapshot. A
// no-op when persistPath is empty, i.e. for an in-memory-only store.
func (s *EmbeddedStore) saveLocked() error {
	if s.persistPath == "" {
		return nil
	}

	snap := embeddedSnapshot{Dimension: s.dim, Rows: s.rows, Deleted: s.deleted}
	data, err := json.Marshal(snap)
	if err != nil {
		return semerr.New(semerr.Io, fmt.Errorf("marshaling vector table: %w", err))
	}

	dir := filepath.Dir(s.persistPath)
	tmp, err := os.CreateTemp(dir, ".vectors.*.tmp")
	if err != nil {
		return semerr.New(semerr.Io, fmt.Errorf("creating temp vector table file: %w", err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return semerr.New(semerr.Io, fmt.Errorf("writing temp vector table file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return semerr.New(semerr.Io, fmt.Errorf("syncing temp vector table file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return semerr.New(semerr.Io, fmt.Errorf("closing temp vector table file: %w", err))
	}
	if err := os.Rename(tmpPath, s.persistPath); err != nil {
		return semerr.New(semerr.Io, fmt.Errorf("renaming %s to %s: %w", tmpPath, s.persistPath, err))
	}
	return nil
}

func (s *EmbeddedStore) compactLocked() {
	newRows := s.rows[:0:0]
	newDeleted := s.deleted[:0:0]
	newByID := make(map[string]int, len(s.byID))
	newByPath := make(map[string][]int, len(s.byPath))

	for i, p := range s.rows {
		if s.deleted[i] {
			continue
		}
		newByID[p.ID] = len(newRows)
		newByPath[p.Path] = append(newByPath[p.Path], len(newRows))
		newRows = append(newRows, p)
		newDeleted = append(newDeleted, false)
	}

	s.rows, s.deleted, s.byID, s.byPath = newRows, newDeleted, newByID, newByPath
	s.indexed = false
}

func (s *EmbeddedStore) maybeBuildOrRebuildLocked() {
	live := 0
	for i := range s.deleted {
		if !s.deleted[i] {
			live++
		}
	}
	if !s.indexed && live >= s.cfg.NIndexThreshold {
		s.buildIndexLocked()
		return
	}
	if s.indexed && live > 0 && float64(s.insertedSinceIdx)/float64(live) > s.cfg.RebuildFraction {
		s.buildIndexLocked()
	}
}

// buildIndexLocked assigns every live row to the nearest of NumPartitions
// seed centroids (sampled evenly across the row store), a single-pass
// Lloyd's-algorithm-lite clustering sufficient for ANN bucketing without
// external dependencies.
func (s *EmbeddedStore) buildIndexLocked() {
	live := s.allLiveRowsLocked()
	if len(live) == 0 {
		s.partitions = nil
		s.indexed = false
		return
	}

	numParts := s.cfg.NumPartitions
	if numParts > len(live) {
		numParts = len(live)
	}
	if numParts < 1 {
		numParts = 1
	}

	step := len(live) / numParts
	if step < 1 {
		step = 1
	}

	parts := make([]partition, 0, numParts)
	for i := 0; i < numParts; i++ {
		seedIdx := live[(i*step)%len(live)]
		centroid := make([]float32, len(s.rows[seedIdx].Vector))
		copy(centroid, s.rows[seedIdx].Vector)
		parts = append(parts, partition{centroid: centroid})
	}

	for _, idx := range live {
		best, bestScore := 0, float32(-2)
		for pi, p := range parts {
			sim := cosineSimilarity(s.rows[idx].Vector, p.centroid)
			if sim > bestScore {
				best, bestScore = pi, sim
			}
		}
		parts[best].rows = append(parts[best].rows, idx)
	}

	s.partitions = parts
	s.indexed = true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
