package embedder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/semcore/internal/cache"
	"github.com/fyrsmithlabs/semcore/internal/fingerprint"
	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// RetryConfig controls the exponential backoff applied to transient
// provider errors: base 100ms, factor 2, max 3 attempts by default.
type RetryConfig struct {
	BaseDelay   time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultRetryConfig returns the wrapper's recommended retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{BaseDelay: 100 * time.Millisecond, Factor: 2, MaxAttempts: 3}
}

// WrapperConfig bundles the Wrapper's tunables.
type WrapperConfig struct {
	Model     string
	RateLimit rate.Limit // requests/sec to the underlying provider; 0 disables limiting
	RateBurst int
	Retry     RetryConfig
}

// Wrapper is C4: the cache-aware, deduplicating, retrying embedder facade
// that scanner, watcher-driven reindexing, and the query engine all call
// through instead of talking to Provider directly.
type Wrapper struct {
	provider Provider
	cache    *cache.Cache
	cfg      WrapperConfig
	limiter  *rate.Limiter
	group    singleflight.Group
	metrics  *metrics
	logger   *zap.Logger
}

// New builds a Wrapper around provider, backed by c for the cache tiers.
func New(provider Provider, c *cache.Cache, cfg WrapperConfig, logger *zap.Logger) *Wrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return &Wrapper{
		provider: provider,
		cache:    c,
		cfg:      cfg,
		limiter:  limiter,
		metrics:  newMetrics(logger),
		logger:   logger,
	}
}

// Info returns the underlying provider's static description.
func (w *Wrapper) Info() EmbedderInfo { return w.provider.Info() }

// Validate confirms the provider is reachable and its configured dimension
// is positive; it never mutates cache state.
func (w *Wrapper) Validate(ctx context.Context) (bool, string) {
	info := w.provider.Info()
	if info.Dimension <= 0 {
		return false, "provider reports non-positive dimension"
	}
	if _, err := w.provider.EmbedBatch(ctx, []string{"validation probe"}, info.DefaultModel); err != nil {
		return false, err.Error()
	}
	return true, ""
}

type missEntry struct {
	index int
	hash  string
	text  string
}

// Embed partitions texts into cache hits and misses, fetches misses from
// the provider (deduplicated and retried), fills the cache, and returns
// vectors in the caller's original order.
func (w *Wrapper) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if model == "" {
		model = w.provider.Info().DefaultModel
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	var misses []missEntry
	seen := make(map[string]bool, len(texts))

	for i, text := range texts {
		hash := fingerprint.HashString(text)
		hashes[i] = hash
		if v, ok := w.cache.Get(cache.Key{ModelID: model, SegmentHash: hash}); ok {
			out[i] = v
			continue
		}
		misses = append(misses, missEntry{index: i, hash: hash, text: text})
		seen[hash] = true
	}
	w.metrics.recordCachePartition(ctx, model, len(texts)-len(misses), len(misses))

	if len(misses) == 0 {
		return out, nil
	}

	// Dedup identical texts within this call: fetch each distinct hash once.
	uniqueIdx := map[string]int{}
	var uniqueMisses []missEntry
	for _, m := range misses {
		if _, ok := uniqueIdx[m.hash]; !ok {
			uniqueIdx[m.hash] = len(uniqueMisses)
			uniqueMisses = append(uniqueMisses, m)
		}
	}

	vectors, err := w.fetchDeduped(ctx, uniqueMisses, model)
	if err != nil {
		return nil, err
	}

	for _, m := range misses {
		vec := vectors[uniqueIdx[m.hash]]
		out[m.index] = vec
		w.cache.Put(cache.Key{ModelID: model, SegmentHash: m.hash}, vec)
	}
	return out, nil
}

// fetchDeduped collapses in-flight calls for the same miss set: the
// group key is the sorted join of hashes in this unique batch, so the common
// case (the same batch retried, or two goroutines racing to warm the same
// content) collapses to one provider call. A goroutine whose miss set only
// partially overlaps another's still gets its own provider call — a
// performance trade-off, not a correctness one: no provider call ever
// produces vectors for a different set of texts than it was asked to embed.
func (w *Wrapper) fetchDeduped(ctx context.Context, misses []missEntry, model string) ([][]float32, error) {
	texts := make([]string, len(misses))
	hashesSorted := make([]string, len(misses))
	for i, m := range misses {
		texts[i] = m.text
		hashesSorted[i] = m.hash
	}
	sort.Strings(hashesSorted)
	key := model + "|" + strings.Join(hashesSorted, ",")

	result, err, _ := w.group.Do(key, func() (interface{}, error) {
		return w.fetchWithRetry(ctx, texts, model)
	})
	if err != nil {
		return nil, err
	}
	return result.([][]float32), nil
}

func (w *Wrapper) fetchWithRetry(ctx context.Context, texts []string, model string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.Retry.MaxAttempts; attempt++ {
		if w.limiter != nil {
			if err := w.limiter.WaitN(ctx, len(texts)); err != nil {
				return nil, semerr.New(semerr.Cancelled, err)
			}
		}

		start := time.Now()
		vectors, err := w.provider.EmbedBatch(ctx, texts, model)
		w.metrics.recordProviderCall(ctx, model, time.Since(start), len(texts), err)

		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if !semerr.IsTransient(err) || attempt == w.cfg.Retry.MaxAttempts {
			return nil, err
		}

		w.metrics.recordRetry(ctx, model)
		delay := time.Duration(float64(w.cfg.Retry.BaseDelay) * pow(w.cfg.Retry.Factor, attempt-1))
		select {
		case <-ctx.Done():
			return nil, semerr.New(semerr.Cancelled, ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("embedder: exhausted retries: %w", lastErr)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
