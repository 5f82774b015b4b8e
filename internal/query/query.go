// Package query implements C9: the semantic_search path. It embeds the
// query text through C4, searches C5, optionally reranks the top results,
// and caches the final result set by (query, filter, k) for the configured
// TTL so repeated searches during a session skip the embed+ANN round trip.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semcore/internal/embedder"
	"github.com/fyrsmithlabs/semcore/internal/fingerprint"
	"github.com/fyrsmithlabs/semcore/internal/metrics"
	"github.com/fyrsmithlabs/semcore/internal/reranker"
	"github.com/fyrsmithlabs/semcore/internal/semerr"
	"github.com/fyrsmithlabs/semcore/internal/vectorstore"
)

// Result is one ranked hit returned from Search.
type Result struct {
	ID        string
	Path      string
	Content   string
	Language  string
	StartLine int32
	EndLine   int32
	Score     float32
	Metadata  map[string]any
}

// Filter restricts Search to a subset of indexed rows; mirrors
// vectorstore.Filter so callers of this package never import vectorstore
// directly.
type Filter struct {
	Language   string
	PathPrefix string
	MinScore   float32
}

// Config configures the result cache and search defaults.
type Config struct {
	ResultCacheTTL      time.Duration
	ResultCacheCapacity int
	SearchTimeout       time.Duration
	DefaultMinScore     float32
	RerankEnabled       bool
}

// DefaultConfig returns the query engine's recommended defaults.
func DefaultConfig() Config {
	return Config{
		ResultCacheTTL:      300 * time.Second,
		ResultCacheCapacity: 1000,
		SearchTimeout:       5 * time.Second,
		DefaultMinScore:     0,
		RerankEnabled:       false,
	}
}

type cacheEntry struct {
	results   []Result
	insertedAt time.Time
}

// Engine is C9's public entry point, wired against one workspace's C4
// embedder, C5 vector store, and an optional reranker.
type Engine struct {
	embed    *embedder.Wrapper
	store    vectorstore.Store
	rerank   reranker.Reranker
	cfg      Config
	model    string
	resultC  *lru.Cache[string, cacheEntry]
	metrics  *metrics.Registry
	logger   *zap.Logger
}

// New builds an Engine. rerank may be nil, in which case Search never
// reranks regardless of cfg.RerankEnabled.
func New(embed *embedder.Wrapper, store vectorstore.Store, rerank reranker.Reranker, cfg Config, model string, reg *metrics.Registry, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := cfg.ResultCacheCapacity
	if capacity <= 0 {
		capacity = 1
	}
	rc, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		return nil, semerr.New(semerr.Config, fmt.Errorf("failed to build result cache: %w", err))
	}
	return &Engine{
		embed:   embed,
		store:   store,
		rerank:  rerank,
		cfg:     cfg,
		model:   model,
		resultC: rc,
		metrics: reg,
		logger:  logger,
	}, nil
}

// Search embeds query, searches the vector store for its top k matches
// (oversampled when reranking is enabled), applies filter, optionally
// reranks, and returns at most k results ordered by descending score.
func (e *Engine) Search(ctx context.Context, query string, k int, filter Filter) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	if filter.MinScore == 0 {
		filter.MinScore = e.cfg.DefaultMinScore
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
	defer cancel()

	key := cacheKey(query, filter, k, e.model)
	if entry, ok := e.resultC.Get(key); ok {
		if time.Since(entry.insertedAt) < e.cfg.ResultCacheTTL {
			e.metrics.RecordRequest("query", "search_cache_hit")
			return entry.results, nil
		}
		e.resultC.Remove(key)
	}
	e.metrics.RecordRequest("query", "search")

	start := time.Now()
	results, err := e.search(ctx, query, k, filter)
	e.metrics.ObserveQueryLatency(time.Since(start))
	if err != nil {
		e.metrics.RecordError("query", errKind(err))
		return nil, err
	}

	e.resultC.Add(key, cacheEntry{results: results, insertedAt: time.Now()})
	return results, nil
}

func (e *Engine) search(ctx context.Context, query string, k int, filter Filter) ([]Result, error) {
	vecs, err := e.embed.Embed(ctx, []string{query}, e.model)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, semerr.Newf(semerr.EmbedProvider, "expected 1 query vector, got %d", len(vecs))
	}

	searchK := k
	rerankEnabled := e.cfg.RerankEnabled && e.rerank != nil
	if rerankEnabled {
		searchK = k * 4
	}

	hits, err := e.store.Search(ctx, vecs[0], searchK, vectorstore.Filter{
		Language:   filter.Language,
		PathPrefix: filter.PathPrefix,
		MinScore:   filter.MinScore,
	})
	if err != nil {
		return nil, err
	}

	if !rerankEnabled {
		return toResults(hits, k), nil
	}
	return e.rerankResults(ctx, query, hits, k)
}

func (e *Engine) rerankResults(ctx context.Context, query string, hits []vectorstore.SearchResult, k int) ([]Result, error) {
	docs := make([]reranker.Document, len(hits))
	byID := make(map[string]vectorstore.SearchResult, len(hits))
	for i, h := range hits {
		docs[i] = reranker.Document{ID: h.ID, Content: h.Content, Score: h.Score}
		byID[h.ID] = h
	}

	scored, err := e.rerank.Rerank(ctx, query, docs, k)
	if err != nil {
		e.logger.Warn("rerank failed, falling back to vector-store ranking", zap.Error(err))
		return toResults(hits, k), nil
	}

	out := make([]Result, 0, len(scored))
	for _, sd := range scored {
		h, ok := byID[sd.ID]
		if !ok {
			continue
		}
		out = append(out, Result{
			ID:        h.ID,
			Path:      h.Path,
			Content:   h.Content,
			Language:  h.Language,
			StartLine: h.StartLine,
			EndLine:   h.EndLine,
			Score:     sd.RerankerScore,
			Metadata:  h.Metadata,
		})
	}
	return out, nil
}

func toResults(hits []vectorstore.SearchResult, k int) []Result {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{
			ID:        h.ID,
			Path:      h.Path,
			Content:   h.Content,
			Language:  h.Language,
			StartLine: h.StartLine,
			EndLine:   h.EndLine,
			Score:     h.Score,
			Metadata:  h.Metadata,
		}
	}
	return out
}

// cacheKey derives the result cache key from H(query || model || filter ||
// k), using the same fingerprint hash C1 uses for segment hashes so cache
// keys stay collision-resistant without a bespoke hash function.
func cacheKey(query string, filter Filter, k int, model string) string {
	raw := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%.3f\x00%d", model, query, filter.Language, filter.PathPrefix, filter.MinScore, k)
	return fingerprint.HashString(raw)
}

// errKind extracts the semerr.Kind string from err for metrics partitioning,
// falling back to "unknown" for errors outside the taxonomy.
func errKind(err error) string {
	var e *semerr.Error
	if semerr.As(err, &e) {
		return string(e.Kind)
	}
	return "unknown"
}

// InvalidateAll clears the result cache. The indexing path does not call
// it: cached result sets otherwise expire only after ResultCacheTTL.
func (e *Engine) InvalidateAll() {
	e.resultC.Purge()
}
