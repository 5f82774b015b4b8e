package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/semcore/internal/cache"
	"github.com/fyrsmithlabs/semcore/internal/embedder"
	"github.com/fyrsmithlabs/semcore/internal/scanner"
	"github.com/fyrsmithlabs/semcore/internal/semerr"
	"github.com/fyrsmithlabs/semcore/internal/vectorstore"
)

type fakeProvider struct{ dim int }

func (f fakeProvider) Info() embedder.EmbedderInfo {
	return embedder.EmbedderInfo{ProviderName: "fake", DefaultModel: "fake-model", Dimension: f.dim, MaxBatchSize: 32}
}

func (f fakeProvider) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func newTestEmbedder(t *testing.T) *embedder.Wrapper {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.L3Enabled = false
	c, err := cache.New(cfg, nil)
	require.NoError(t, err)
	return embedder.New(fakeProvider{dim: 4}, c, embedder.WrapperConfig{
		Retry: embedder.RetryConfig{BaseDelay: time.Millisecond, Factor: 1, MaxAttempts: 1},
	}, nil)
}

type fakeStore struct {
	mu       sync.Mutex
	upserted []vectorstore.Point
	deleted  []string
}

func (s *fakeStore) Upsert(ctx context.Context, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, points...)
	return nil
}

func (s *fakeStore) DeleteByPaths(ctx context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, paths...)
	return nil
}

func (s *fakeStore) Search(context.Context, []float32, int, vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	return nil, nil
}
func (s *fakeStore) Optimize(context.Context) error   { return nil }
func (s *fakeStore) Dimension() int                   { return 4 }
func (s *fakeStore) Count(context.Context) (int, error) { return 0, nil }
func (s *fakeStore) Close() error                     { return nil }

type fakeHashes struct {
	mu sync.Mutex
	m  map[string]string
}

func newFakeHashes() *fakeHashes { return &fakeHashes{m: map[string]string{}} }

func (f *fakeHashes) Hash(path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.m[path]
	return h, ok
}
func (f *fakeHashes) Set(path, hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[path] = hash
}
func (f *fakeHashes) Delete(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, path)
}
func (f *fakeHashes) Save() error { return nil }

func testConfig() Config {
	return Config{OptimizeThreshold: 1_000_000, MaxRetries: 1, RetryBaseDelay: time.Millisecond, RetryFactor: 1, QueueCapacity: 4}
}

func TestProcessBatch_UpsertsAndRecordsHashes(t *testing.T) {
	store := &fakeStore{}
	hashes := newFakeHashes()
	o := New(store, newTestEmbedder(t), hashes, nil, testConfig(), "fake-model", "main", nil)

	err := o.Enqueue(context.Background(), scanner.Batch{
		Chunks: []scanner.Chunk{
			{FilePath: "a.go", Content: "package a", SegmentHash: "h1"},
		},
		CoveredPaths: []string{"a.go"},
		ChangedPaths: []string{"a.go"},
		FileHashes:   map[string]string{"a.go": "newhash"},
	})
	require.NoError(t, err)

	go func() { _ = o.Run(context.Background()) }()
	require.NoError(t, o.Flush(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.upserted, 1)
	require.Equal(t, "a.go", store.upserted[0].Path)
	require.Equal(t, "main", store.upserted[0].Metadata["branch"])

	h, ok := hashes.Hash("a.go")
	require.True(t, ok)
	require.Equal(t, "newhash", h)
}

func TestProcessBatch_EmptyBranchOmitsMetadata(t *testing.T) {
	store := &fakeStore{}
	hashes := newFakeHashes()
	o := New(store, newTestEmbedder(t), hashes, nil, testConfig(), "fake-model", "", nil)

	require.NoError(t, o.Enqueue(context.Background(), scanner.Batch{
		Chunks:       []scanner.Chunk{{FilePath: "a.go", Content: "x", SegmentHash: "h1"}},
		CoveredPaths: []string{"a.go"},
	}))
	go func() { _ = o.Run(context.Background()) }()
	require.NoError(t, o.Flush(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Nil(t, store.upserted[0].Metadata)
}

func TestProcessDelete_RemovesPathAndHash(t *testing.T) {
	store := &fakeStore{}
	hashes := newFakeHashes()
	hashes.Set("gone.go", "oldhash")
	o := New(store, newTestEmbedder(t), hashes, nil, testConfig(), "fake-model", "", nil)

	require.NoError(t, o.EnqueueDelete(context.Background(), "gone.go"))
	go func() { _ = o.Run(context.Background()) }()
	require.NoError(t, o.Flush(context.Background()))

	store.mu.Lock()
	require.Contains(t, store.deleted, "gone.go")
	store.mu.Unlock()

	_, ok := hashes.Hash("gone.go")
	require.False(t, ok)
}

func TestEnqueue_RejectedAfterShutdown(t *testing.T) {
	store := &fakeStore{}
	hashes := newFakeHashes()
	o := New(store, newTestEmbedder(t), hashes, nil, testConfig(), "fake-model", "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	err := o.Enqueue(context.Background(), scanner.Batch{})
	require.Error(t, err)
	var semErr *semerr.Error
	require.ErrorAs(t, err, &semErr)
	require.Equal(t, semerr.Cancelled, semErr.Kind)
}
