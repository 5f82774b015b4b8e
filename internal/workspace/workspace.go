// Package workspace wires the scanning, caching, embedding, and vector
// store components into the operations a host editor calls:
// index_workspace, semantic_search, and on_file_changed. It owns the
// persistent state layout under the configured cache directory and the
// startup mismatch check that wipes stale state when the embedding model
// or dimension changes underneath it.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/semcore/internal/cache"
	"github.com/fyrsmithlabs/semcore/internal/chunker"
	"github.com/fyrsmithlabs/semcore/internal/config"
	"github.com/fyrsmithlabs/semcore/internal/embedder"
	"github.com/fyrsmithlabs/semcore/internal/ignore"
	"github.com/fyrsmithlabs/semcore/internal/metrics"
	"github.com/fyrsmithlabs/semcore/internal/mmapstore"
	"github.com/fyrsmithlabs/semcore/internal/orchestrator"
	"github.com/fyrsmithlabs/semcore/internal/query"
	"github.com/fyrsmithlabs/semcore/internal/reranker"
	"github.com/fyrsmithlabs/semcore/internal/scanner"
	"github.com/fyrsmithlabs/semcore/internal/semerr"
	"github.com/fyrsmithlabs/semcore/internal/vectorstore"
	"github.com/fyrsmithlabs/semcore/internal/watcher"
)

const (
	mmapFileName        = "vectors.mmap"
	fileHashesFileName  = "file_hashes.json"
	modelIDFileName     = "model_id"
	vectorTableFileName = "vectors.json"
)

// IndexProgress mirrors orchestrator.Observer for callers that only want
// to watch a CLI or TUI progress bar without importing orchestrator.
type IndexProgress interface {
	BatchStarted(paths []string)
	Progress(done, total int, current string)
	BatchFinished(upserted, deleted, failed int, err error)
}

// Workspace is the façade a CLI or any other host wires against.
type Workspace struct {
	cfg    *config.Config
	logger *zap.Logger

	ignoreMatcher *ignore.Matcher
	branch        string

	hashes  *fileHashStore
	mmap    *mmapstore.Store
	cache   *cache.Cache
	embed   *embedder.Wrapper
	store   vectorstore.Store
	orch    *orchestrator.Orchestrator
	queryEn *query.Engine
	metrics *metrics.Registry

	watcher *watcher.Watcher

	mu      sync.Mutex
	running bool
}

// observerAdapter bridges orchestrator.Observer to IndexProgress.
type observerAdapter struct {
	delegate IndexProgress
}

func (o observerAdapter) BatchStarted(paths []string) {
	if o.delegate != nil {
		o.delegate.BatchStarted(paths)
	}
}

func (o observerAdapter) Progress(done, total int, current string) {
	if o.delegate != nil {
		o.delegate.Progress(done, total, current)
	}
}

func (o observerAdapter) BatchFinished(s orchestrator.Summary) {
	if o.delegate != nil {
		o.delegate.BatchFinished(s.Upserted, s.Deleted, s.Failed, s.Err)
	}
}

// Open builds every component a workspace depends on for one workspace
// root and runs the startup model-identity reconciliation check.
func Open(ctx context.Context, cfg *config.Config, progress IndexProgress, logger *zap.Logger) (*Workspace, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.EnsureCacheDir(cfg.Workspace.CacheDir); err != nil {
		return nil, err
	}

	reg := metrics.New()

	hashes, err := newFileHashStore(filepath.Join(cfg.Workspace.CacheDir, fileHashesFileName))
	if err != nil {
		return nil, err
	}

	if err := reconcileModelIdentity(cfg, hashes); err != nil {
		return nil, err
	}

	mm, err := openOrCreateMmap(cfg)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(cfg.Cache, mm)
	if err != nil {
		return nil, err
	}

	provider, err := embedder.NewTEIProvider(embedder.TEIConfig{
		BaseURL:      cfg.Embedder.BaseURL,
		Model:        cfg.Embedder.Model,
		Dimension:    cfg.Embedder.Dimension,
		MaxBatchSize: cfg.Embedder.MaxBatchSize,
		Timeout:      cfg.Embedder.Timeout,
	})
	if err != nil {
		return nil, err
	}
	embed := embedder.New(provider, c, embedder.WrapperConfig{
		Model:     cfg.Embedder.Model,
		RateLimit: rateLimit(cfg.Embedder.RateLimit),
		RateBurst: cfg.Embedder.RateBurst,
	}, logger)

	store, err := vectorstore.New(ctx, vectorstore.Config{
		Backend:     vectorstore.Backend(cfg.VectorStore.Backend),
		Dimension:   cfg.Embedder.Dimension,
		PersistPath: filepath.Join(cfg.Workspace.CacheDir, vectorTableFileName),
		Index: vectorstore.IndexConfig{
			NIndexThreshold: cfg.VectorStore.NIndexThreshold,
			NumPartitions:   cfg.VectorStore.NumPartitions,
			NumSubVectors:   cfg.VectorStore.NumSubVectors,
			RebuildFraction: cfg.VectorStore.RebuildFraction,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:           cfg.VectorStore.Qdrant.Host,
			Port:           cfg.VectorStore.Qdrant.Port,
			UseTLS:         cfg.VectorStore.Qdrant.UseTLS,
			APIKey:         cfg.VectorStore.Qdrant.APIKey.Value(),
			Collection:     cfg.VectorStore.Qdrant.Collection,
			Dimension:      cfg.Embedder.Dimension,
			DialTimeout:    cfg.VectorStore.Qdrant.DialTimeout,
			RequestTimeout: cfg.VectorStore.Qdrant.RequestTimeout,
		},
	})
	if err != nil {
		return nil, err
	}

	var rerank reranker.Reranker
	if cfg.Query.RerankEnabled {
		rerank = reranker.NewSimpleReranker()
	}
	queryEn, err := query.New(embed, store, rerank, query.Config{
		ResultCacheTTL:      cfg.Query.ResultCacheTTL,
		ResultCacheCapacity: cfg.Query.ResultCacheCapacity,
		SearchTimeout:       cfg.Query.SearchTimeout,
		DefaultMinScore:     cfg.Query.DefaultMinScore,
		RerankEnabled:       cfg.Query.RerankEnabled,
	}, cfg.Embedder.Model, reg, logger)
	if err != nil {
		return nil, err
	}

	var obs orchestrator.Observer
	if progress != nil {
		obs = observerAdapter{delegate: progress}
	}
	branch := scanner.DetectBranch(cfg.Workspace.Root)
	orch := orchestrator.New(store, embed, hashes, obs, orchestrator.Config{
		OptimizeThreshold: cfg.Orchestrator.OptimizeThreshold,
		MaxRetries:        cfg.Orchestrator.MaxRetries,
		RetryBaseDelay:    cfg.Orchestrator.RetryBaseDelay,
		RetryFactor:       cfg.Orchestrator.RetryFactor,
		QueueCapacity:     cfg.Orchestrator.QueueCapacity,
	}, cfg.Embedder.Model, branch, logger)

	patterns, err := ignore.NewParser(
		[]string{".gitignore", ".semcoreignore"},
		[]string{".git/**", "node_modules/**", "vendor/**"},
	).ParseProject(cfg.Workspace.Root)
	if err != nil {
		return nil, semerr.New(semerr.Io, fmt.Errorf("parsing ignore patterns: %w", err))
	}

	w := &Workspace{
		cfg:           cfg,
		logger:        logger,
		ignoreMatcher: ignore.NewMatcher(patterns),
		branch:        branch,
		hashes:        hashes,
		mmap:          mm,
		cache:         c,
		embed:         embed,
		store:         store,
		orch:          orch,
		queryEn:       queryEn,
		metrics:       reg,
	}
	return w, nil
}

// rateLimit converts a requests/sec float into the embedder's rate.Limit,
// treating <= 0 as "unlimited".
func rateLimit(perSec float64) rate.Limit {
	if perSec <= 0 {
		return 0
	}
	return rate.Limit(perSec)
}

func openOrCreateMmap(cfg *config.Config) (*mmapstore.Store, error) {
	path := filepath.Join(cfg.Workspace.CacheDir, mmapFileName)
	if _, err := os.Stat(path); err == nil {
		return mmapstore.Open(path)
	}
	return mmapstore.Create(path, mmapstore.Options{
		SlotCount:    cfg.MmapStore.SlotCount,
		MaxSlotBytes: cfg.MmapStore.MaxSlotBytes,
		Dimension:    uint32(cfg.Embedder.Dimension),
	})
}

// reconcileModelIdentity runs the startup model-identity check: the
// embedding model and dimension are workspace-wide invariants recorded the
// first time a workspace is opened. A mismatch on a later open means the
// cached vectors and file hashes are for a different embedding space
// entirely and must be wiped rather than silently mixed in.
func reconcileModelIdentity(cfg *config.Config, hashes *fileHashStore) error {
	idPath := filepath.Join(cfg.Workspace.CacheDir, modelIDFileName)
	want := fmt.Sprintf("%s\t%d", cfg.Embedder.Model, cfg.Embedder.Dimension)

	got, err := os.ReadFile(idPath)
	switch {
	case os.IsNotExist(err):
		return os.WriteFile(idPath, []byte(want), 0o600)
	case err != nil:
		return semerr.New(semerr.Io, fmt.Errorf("reading %s: %w", idPath, err))
	}

	if string(got) == want {
		return nil
	}

	// Model or dimension changed: every on-disk artifact keyed by the old
	// embedding space is now invalid. Wipe the mmap store, the persisted
	// vector table, and the file-hash map, so the next index_workspace
	// call rebuilds everything from scratch rather than mixing embedding
	// spaces. A Qdrant-backed store keeps its own collection and is left
	// alone here; a mismatched collection is an operator's problem to
	// resolve (e.g. by pointing at a fresh collection name).
	for _, name := range []string{mmapFileName, fileHashesFileName, vectorTableFileName} {
		if err := os.Remove(filepath.Join(cfg.Workspace.CacheDir, name)); err != nil && !os.IsNotExist(err) {
			return semerr.New(semerr.Io, fmt.Errorf("removing stale %s: %w", name, err))
		}
	}
	hashes.reset()
	return os.WriteFile(idPath, []byte(want), 0o600)
}

// IndexWorkspace runs a full directory scan and feeds every resulting
// batch (and any stale-path deletions) through the Orchestrator, then
// blocks until the queue has drained.
func (w *Workspace) IndexWorkspace(ctx context.Context) error {
	s := scanner.New(scanner.Config{
		MaxFiles:              w.cfg.Scanner.MaxFiles,
		ParseConcurrency:      w.cfg.Scanner.ParseConcurrency,
		MaxFileSize:           w.cfg.Scanner.MaxFileSize,
		BatchSegmentThreshold: w.cfg.Scanner.BatchSegmentThreshold,
		BatchConcurrency:      w.cfg.Scanner.BatchConcurrency,
		MaxPendingBatches:     w.cfg.Scanner.MaxPendingBatches,
		SupportedExtensions:   scanner.DefaultConfig().SupportedExtensions,
	}, w.ignoreMatcher, chunker.NewLineChunker(), w.hashes)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	orchDone := make(chan error, 1)
	go func() { orchDone <- w.orch.Run(runCtx) }()

	before := map[string]bool{}
	for _, p := range w.hashes.Paths() {
		before[p] = true
	}

	batchCh, resultCh, errCh := s.Scan(ctx, w.cfg.Workspace.Root)
	for batch := range batchCh {
		if err := w.orch.Enqueue(ctx, batch); err != nil {
			cancel()
			<-orchDone
			return err
		}
	}
	if err := <-errCh; err != nil {
		cancel()
		<-orchDone
		return err
	}
	result := <-resultCh

	for _, p := range result.CoveredPaths {
		delete(before, p)
	}
	stale := make([]string, 0, len(before))
	for p := range before {
		stale = append(stale, p)
	}
	for _, p := range stale {
		if err := w.orch.EnqueueDelete(ctx, p); err != nil {
			cancel()
			<-orchDone
			return err
		}
	}

	if err := w.orch.Flush(ctx); err != nil {
		cancel()
		<-orchDone
		return err
	}
	cancel()
	return <-orchDone
}

// OnFileChanged translates one debounced watcher event into an
// Orchestrator submission; used by RunWatch and directly by hosts that
// already have their own filesystem watcher.
func (w *Workspace) OnFileChanged(ctx context.Context, ev watcher.Event) error {
	return w.orch.EnqueueWatcherEvent(ctx, ev)
}

// RunWatch starts the filesystem watcher and the Orchestrator's consumer
// loop and blocks until ctx is cancelled.
func (w *Workspace) RunWatch(ctx context.Context) error {
	wr, err := watcher.New(w.cfg.Workspace.Root, watcher.Config{Debounce: w.cfg.Watcher.Debounce}, w.ignoreMatcher, w.logger)
	if err != nil {
		return err
	}
	w.watcher = wr

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(2)

	var watchErr, orchErr error
	go func() { defer wg.Done(); watchErr = wr.Run(ctx) }()
	go func() { defer wg.Done(); orchErr = w.orch.Run(ctx) }()

	go func() {
		for ev := range wr.Events() {
			_ = w.OnFileChanged(ctx, ev)
		}
	}()

	wg.Wait()
	if watchErr != nil {
		return watchErr
	}
	return orchErr
}

// SemanticSearch implements the semantic_search(q, k, filter?) host
// operation.
func (w *Workspace) SemanticSearch(ctx context.Context, q string, k int, filter query.Filter) ([]query.Result, error) {
	return w.queryEn.Search(ctx, q, k, filter)
}

// Grep runs an exact-match regex search over the workspace root, for
// queries (symbol names, error codes) that a semantic search ranks
// poorly. It shares the workspace's ignore filtering but not its index:
// every call re-walks the tree.
func (w *Workspace) Grep(ctx context.Context, pattern string, opts scanner.GrepOptions) ([]scanner.GrepResult, error) {
	return scanner.Grep(ctx, w.cfg.Workspace.Root, pattern, w.ignoreMatcher, opts)
}

// Metrics returns the Prometheus registry this workspace's components
// report through, for a CLI to expose via promhttp or a TUI to poll.
func (w *Workspace) Metrics() *metrics.Registry { return w.metrics }

// Branch reports the best-effort git branch this workspace was opened on.
func (w *Workspace) Branch() string { return w.branch }

// Close releases every owned resource. Safe to call once.
func (w *Workspace) Close() error {
	var firstErr error
	if err := w.hashes.Save(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.mmap.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
