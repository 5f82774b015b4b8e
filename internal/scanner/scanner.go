// Package scanner implements C6: the initial (and re-triggerable) full
// directory walk that discovers files, chunks changed ones via an external
// parser, and hands batches of chunks off to the Orchestrator (C8) for
// embedding and upsert.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fyrsmithlabs/semcore/internal/fingerprint"
	"github.com/fyrsmithlabs/semcore/internal/ignore"
	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// Chunk is the atomic indexable unit produced by Parser.
type Chunk struct {
	FilePath    string
	Content     string
	StartLine   int
	EndLine     int
	SegmentHash string
	Language    string
}

// Parser is the external collaborator that splits a file's bytes into
// chunks. Scanner never interprets file content itself.
type Parser interface {
	Parse(path string, content []byte) ([]Chunk, error)
}

// HashLookup lets the scanner skip unchanged files without taking a
// dependency on the Orchestrator's file-hash map implementation.
type HashLookup interface {
	// Hash returns the last-known file_hash for path, or ok=false if the
	// path was never indexed.
	Hash(path string) (hash string, ok bool)
}

// Config holds the Scanner's tunables.
type Config struct {
	MaxFiles              int
	ParseConcurrency      int
	MaxFileSize           int64
	BatchSegmentThreshold int
	BatchConcurrency      int
	MaxPendingBatches     int
	SupportedExtensions   map[string]string // ext (with dot) -> language name
}

// DefaultConfig returns the Scanner's recommended tunables.
func DefaultConfig() Config {
	return Config{
		MaxFiles:              50_000,
		ParseConcurrency:      10,
		MaxFileSize:           10 << 20,
		BatchSegmentThreshold: 100,
		BatchConcurrency:      5,
		MaxPendingBatches:     3,
		SupportedExtensions: map[string]string{
			".go": "go", ".rs": "rust", ".py": "python", ".ts": "typescript",
			".tsx": "typescript", ".js": "javascript", ".java": "java",
		},
	}
}

// Batch is a detached group of chunks ready for embedding, along with the
// set of paths it fully represents (all chunks for that path's current
// content are in this batch or an earlier one in the same scan).
type Batch struct {
	Chunks       []Chunk
	CoveredPaths []string
	ChangedPaths []string          // subset of CoveredPaths whose prior hash differed: C8 must delete old Points for these first
	FileHashes   map[string]string // ChangedPaths -> newly computed file_hash, for C8's hash-map bookkeeping
}

// Result summarizes a completed scan: every path covered (for file-hash
// bookkeeping). Scan does not fill StalePaths; callers find paths to delete
// by comparing CoveredPaths with their own file-hash map.
type Result struct {
	CoveredPaths []string
	StalePaths   []string
}

// Scanner walks a workspace root, chunking changed files and grouping their
// chunks into batches bounded by BatchSegmentThreshold.
type Scanner struct {
	cfg     Config
	ignore  *ignore.Matcher
	parser  Parser
	hashes  HashLookup
}

// New builds a Scanner. ignoreMatcher may be nil to disable ignore filtering.
func New(cfg Config, ignoreMatcher *ignore.Matcher, parser Parser, hashes HashLookup) *Scanner {
	return &Scanner{cfg: cfg, ignore: ignoreMatcher, parser: parser, hashes: hashes}
}

// Scan walks root and emits Batches on the returned channel as they fill,
// applying back-pressure once MaxPendingBatches batches are in flight. The
// channel is closed when the walk (and residual-batch flush) completes;
// the Result is delivered via resultCh exactly once, after the channel
// closes.
func (s *Scanner) Scan(ctx context.Context, root string) (<-chan Batch, <-chan Result, <-chan error) {
	batchCh := make(chan Batch, s.cfg.MaxPendingBatches)
	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(batchCh)
		defer close(resultCh)
		defer close(errCh)

		result, err := s.scan(ctx, root, batchCh)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	return batchCh, resultCh, errCh
}

type collector struct {
	mu         sync.Mutex
	chunks     []Chunk
	covered    map[string]bool
	changed    map[string]bool
	fileHashes map[string]string
}

func newCollector() *collector {
	return &collector{covered: map[string]bool{}, changed: map[string]bool{}, fileHashes: map[string]string{}}
}

func (s *Scanner) scan(ctx context.Context, root string, out chan<- Batch) (Result, error) {
	paths, err := s.walk(root)
	if err != nil {
		return Result{}, err
	}
	if len(paths) > s.cfg.MaxFiles {
		paths = paths[:s.cfg.MaxFiles]
	}

	sem := make(chan struct{}, s.cfg.ParseConcurrency)
	col := newCollector()
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	for _, p := range paths {
		select {
		case <-ctx.Done():
			wg.Wait()
			return Result{}, semerr.New(semerr.Cancelled, ctx.Err())
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.processFile(ctx, root, path, col, out); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if firstErr != nil {
		return Result{}, firstErr
	}

	flushResidual(col, out)

	covered := make([]string, 0, len(col.covered))
	for p := range col.covered {
		covered = append(covered, p)
	}
	return Result{CoveredPaths: covered}, nil
}

func (s *Scanner) processFile(ctx context.Context, root, path string, col *collector, out chan<- Batch) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return semerr.New(semerr.Io, err)
	}
	rel = filepath.ToSlash(rel)

	if s.ignore != nil && s.ignore.Match(rel) {
		return nil
	}
	ext := filepath.Ext(path)
	lang, supported := s.cfg.SupportedExtensions[ext]
	if !supported {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil // file may have been removed mid-scan; skip, not fatal
	}
	if info.Size() > s.cfg.MaxFileSize {
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return semerr.New(semerr.Io, fmt.Errorf("reading %s: %w", rel, err))
	}

	fileHash := fingerprint.Hash(content)
	if prior, ok := s.hashes.Hash(rel); ok && prior == fileHash {
		col.mu.Lock()
		col.covered[rel] = true
		col.mu.Unlock()
		return nil
	}

	chunks, err := s.parser.Parse(rel, content)
	if err != nil {
		return semerr.New(semerr.Io, fmt.Errorf("parsing %s: %w", rel, err))
	}
	for i := range chunks {
		chunks[i].FilePath = rel
		chunks[i].Language = lang
		chunks[i].SegmentHash = fingerprint.HashString(chunks[i].Content)
	}

	col.mu.Lock()
	col.chunks = append(col.chunks, chunks...)
	col.covered[rel] = true
	col.changed[rel] = true
	col.fileHashes[rel] = fileHash
	var flush []Chunk
	if len(col.chunks) >= s.cfg.BatchSegmentThreshold {
		flush = col.chunks
		col.chunks = nil
	}
	col.mu.Unlock()

	if flush != nil {
		sendBatch(ctx, col, flush, out)
	}
	return nil
}

func sendBatch(ctx context.Context, col *collector, chunks []Chunk, out chan<- Batch) {
	covered, changed, hashes := drainPathSets(col)
	select {
	case out <- Batch{Chunks: chunks, CoveredPaths: covered, ChangedPaths: changed, FileHashes: hashes}:
	case <-ctx.Done():
	}
}

func flushResidual(col *collector, out chan<- Batch) {
	col.mu.Lock()
	chunks := col.chunks
	col.chunks = nil
	col.mu.Unlock()
	if len(chunks) == 0 {
		return
	}
	covered, changed, hashes := drainPathSets(col)
	out <- Batch{Chunks: chunks, CoveredPaths: covered, ChangedPaths: changed, FileHashes: hashes}
}

// drainPathSets takes a snapshot of paths touched since the last batch was
// sent. Each path is only reported on the batch that actually completes its
// coverage; since chunks are appended per-file in one step, the path is
// always fully represented by the time it appears here.
func drainPathSets(col *collector) (covered, changed []string, hashes map[string]string) {
	col.mu.Lock()
	defer col.mu.Unlock()
	for p := range col.covered {
		covered = append(covered, p)
	}
	hashes = map[string]string{}
	for p := range col.changed {
		changed = append(changed, p)
		hashes[p] = col.fileHashes[p]
	}
	col.covered = map[string]bool{}
	col.changed = map[string]bool{}
	col.fileHashes = map[string]string{}
	return covered, changed, hashes
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true, "build": true, "target": true,
}

func (s *Scanner) walk(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (skipDirs[name] || (len(name) > 1 && name[0] == '.')) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(name) > 0 && name[0] == '.' {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, semerr.New(semerr.Io, err)
	}
	return paths, nil
}
