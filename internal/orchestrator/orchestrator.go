// Package orchestrator implements C8: the single writer to the vector
// store and the file-hash map. It consumes batches from the Scanner and
// debounced events from the Watcher through one sequential queue, so all
// mutation of C5 is serialized regardless of how many producers feed it.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semcore/internal/embedder"
	"github.com/fyrsmithlabs/semcore/internal/fingerprint"
	"github.com/fyrsmithlabs/semcore/internal/scanner"
	"github.com/fyrsmithlabs/semcore/internal/semerr"
	"github.com/fyrsmithlabs/semcore/internal/vectorstore"
	"github.com/fyrsmithlabs/semcore/internal/watcher"
)

// EventKind tags the Orchestrator's input queue, replacing the virtual
// dispatch a method-per-event-type design would need.
type EventKind int

const (
	CreateOrModify EventKind = iota
	Delete
	Flush
)

// IndexEvent is the tagged-union message the queue consumes. Batch carries
// chunks for CreateOrModify (from the Scanner); Path carries the single
// path for Delete (from the Watcher); Flush carries neither and is used to
// synchronize callers with "everything queued so far has committed."
type IndexEvent struct {
	Kind  EventKind
	Batch scanner.Batch
	Path  string
	Done  chan<- struct{} // closed once this event's processing completes
}

// Config holds the Orchestrator's tunables.
type Config struct {
	OptimizeThreshold int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryFactor       float64
	QueueCapacity     int
}

// DefaultConfig returns the Orchestrator's recommended tunables.
func DefaultConfig() Config {
	return Config{
		OptimizeThreshold: 1000,
		MaxRetries:        3,
		RetryBaseDelay:    100 * time.Millisecond,
		RetryFactor:       2,
		QueueCapacity:     3,
	}
}

// HashStore persists the file-hash map the Orchestrator owns. Implementations
// must make Save durable (temp-file-then-rename), since it is the sole
// record of what has already been indexed.
type HashStore interface {
	Hash(path string) (hash string, ok bool)
	Set(path, hash string)
	Delete(path string)
	Save() error
}

// Observer receives batch lifecycle events as the Orchestrator processes
// its queue. All methods must return quickly; slow observers block the
// Orchestrator's single queue.
type Observer interface {
	BatchStarted(paths []string)
	Progress(done, total int, current string)
	BatchFinished(summary Summary)
}

// Summary reports the outcome of one committed (or failed) batch.
type Summary struct {
	Upserted int
	Deleted  int
	Failed   int
	Err      error
}

// NopObserver satisfies Observer with no-ops, for callers that don't need
// progress reporting.
type NopObserver struct{}

func (NopObserver) BatchStarted([]string)      {}
func (NopObserver) Progress(int, int, string)  {}
func (NopObserver) BatchFinished(Summary)      {}

// Orchestrator is the sole writer to a vectorstore.Store and a HashStore.
type Orchestrator struct {
	store  vectorstore.Store
	embed  *embedder.Wrapper
	hashes HashStore
	obs    Observer
	cfg    Config
	logger *zap.Logger
	model  string
	branch string

	queue chan IndexEvent

	mu       sync.Mutex
	sinceOpt int
	draining bool
}

// New builds an Orchestrator. model is the embedding model id used for all
// chunk embeddings this Orchestrator issues. branch is the workspace's
// best-effort git branch, stamped onto every upserted Point's metadata so
// a host editor can scope results to the branch it's currently on; pass
// "" when the workspace isn't a git checkout.
func New(store vectorstore.Store, embed *embedder.Wrapper, hashes HashStore, obs Observer, cfg Config, model, branch string, logger *zap.Logger) *Orchestrator {
	if obs == nil {
		obs = NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:  store,
		embed:  embed,
		hashes: hashes,
		obs:    obs,
		cfg:    cfg,
		model:  model,
		branch: branch,
		logger: logger,
		queue:  make(chan IndexEvent, cfg.QueueCapacity),
	}
}

// Enqueue submits a batch from the Scanner. It blocks once QueueCapacity
// in-flight batches are already queued, providing back-pressure to
// producers faster than the single writer can commit.
func (o *Orchestrator) Enqueue(ctx context.Context, batch scanner.Batch) error {
	return o.send(ctx, IndexEvent{Kind: CreateOrModify, Batch: batch})
}

// EnqueueDelete submits a single-path deletion from the Watcher.
func (o *Orchestrator) EnqueueDelete(ctx context.Context, path string) error {
	return o.send(ctx, IndexEvent{Kind: Delete, Path: path})
}

// EnqueueWatcherEvent translates a debounced watcher.Event into the
// Orchestrator's own event shape.
func (o *Orchestrator) EnqueueWatcherEvent(ctx context.Context, ev watcher.Event) error {
	if ev.Kind == watcher.Deleted {
		return o.EnqueueDelete(ctx, ev.Path)
	}
	// Created/Modified: route through the same batch path a scan uses, so
	// C8's splitting/retry/optimize logic is exercised identically whether
	// the change was discovered by a full scan or a live filesystem event.
	return o.Enqueue(ctx, scanner.Batch{ChangedPaths: []string{ev.Path}})
}

// Flush blocks until every event enqueued before this call has committed.
func (o *Orchestrator) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := o.send(ctx, IndexEvent{Kind: Flush, Done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return semerr.New(semerr.Cancelled, ctx.Err())
	}
}

func (o *Orchestrator) send(ctx context.Context, ev IndexEvent) error {
	o.mu.Lock()
	draining := o.draining
	o.mu.Unlock()
	if draining {
		return semerr.New(semerr.Cancelled, fmt.Errorf("orchestrator is shutting down"))
	}
	select {
	case o.queue <- ev:
		return nil
	case <-ctx.Done():
		return semerr.New(semerr.Cancelled, ctx.Err())
	}
}

// Run consumes the queue sequentially until ctx is cancelled. On
// cancellation it finishes the batch currently being processed, refuses
// new submissions, and returns after the queue drains.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-o.queue:
			if !ok {
				return nil
			}
			o.process(ctx, ev)

		case <-ctx.Done():
			o.mu.Lock()
			o.draining = true
			o.mu.Unlock()
			o.drainRemaining(ctx)
			if err := o.hashes.Save(); err != nil {
				o.logger.Warn("final hash map save failed", zap.Error(err))
			}
			return nil
		}
	}
}

func (o *Orchestrator) drainRemaining(ctx context.Context) {
	for {
		select {
		case ev, ok := <-o.queue:
			if !ok {
				return
			}
			o.process(context.Background(), ev)
		default:
			return
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, ev IndexEvent) {
	switch ev.Kind {
	case Flush:
		if ev.Done != nil {
			close(ev.Done)
		}
	case Delete:
		o.processDelete(ctx, ev.Path)
	case CreateOrModify:
		o.processBatch(ctx, ev.Batch)
	}
}

func (o *Orchestrator) processDelete(ctx context.Context, path string) {
	o.obs.BatchStarted([]string{path})
	err := o.withRetry(ctx, func() error {
		return o.store.DeleteByPaths(ctx, []string{path})
	})
	summary := Summary{Deleted: 1}
	if err != nil {
		summary.Failed = 1
		summary.Err = err
		o.obs.BatchFinished(summary)
		return
	}
	o.hashes.Delete(path)
	o.obs.BatchFinished(summary)
}

func (o *Orchestrator) processBatch(ctx context.Context, batch scanner.Batch) {
	total := len(batch.ChangedPaths)
	if total == 0 {
		total = len(batch.CoveredPaths)
	}
	o.obs.BatchStarted(batch.CoveredPaths)

	summary := Summary{}

	// Deletions first: a path that changed content invalidates its prior
	// Points before any replacement is embedded.
	if len(batch.ChangedPaths) > 0 {
		if err := o.withRetry(ctx, func() error {
			return o.store.DeleteByPaths(ctx, batch.ChangedPaths)
		}); err != nil {
			summary.Failed = len(batch.Chunks)
			summary.Err = err
			o.obs.BatchFinished(summary)
			return
		}
		summary.Deleted = len(batch.ChangedPaths)
	}

	if len(batch.Chunks) == 0 {
		for i, p := range batch.CoveredPaths {
			o.obs.Progress(i+1, len(batch.CoveredPaths), p)
		}
		o.obs.BatchFinished(summary)
		return
	}

	texts := make([]string, len(batch.Chunks))
	for i, c := range batch.Chunks {
		texts[i] = c.Content
	}

	var vectors [][]float32
	err := o.withRetry(ctx, func() error {
		var embedErr error
		vectors, embedErr = o.embed.Embed(ctx, texts, o.model)
		return embedErr
	})
	if err != nil {
		summary.Failed = len(batch.Chunks)
		summary.Err = err
		o.obs.BatchFinished(summary)
		return
	}

	var metadata map[string]any
	if o.branch != "" {
		metadata = map[string]any{"branch": o.branch}
	}

	points := make([]vectorstore.Point, len(batch.Chunks))
	for i, c := range batch.Chunks {
		points[i] = vectorstore.Point{
			ID:          fingerprint.PointID(c.SegmentHash).String(),
			Path:        c.FilePath,
			Content:     c.Content,
			Language:    c.Language,
			StartLine:   int32(c.StartLine),
			EndLine:     int32(c.EndLine),
			Vector:      vectors[i],
			SegmentHash: c.SegmentHash,
			Metadata:    metadata,
			TimestampMs: time.Now().UnixMilli(),
		}
		o.obs.Progress(i+1, total, c.FilePath)
	}

	err = o.withRetry(ctx, func() error {
		return o.store.Upsert(ctx, points)
	})
	if err != nil {
		summary.Failed = len(batch.Chunks)
		summary.Err = err
		o.obs.BatchFinished(summary)
		return
	}
	summary.Upserted = len(points)

	// The scanner only reports a path as changed once every chunk for its
	// current content made it into this (or an earlier) batch, so the
	// file-hash map can be advanced unconditionally here.
	for _, p := range batch.ChangedPaths {
		o.hashes.Set(p, batch.FileHashes[p])
	}

	o.maybeOptimize(ctx, len(points))
	o.obs.BatchFinished(summary)
}

func (o *Orchestrator) maybeOptimize(ctx context.Context, upserted int) {
	o.mu.Lock()
	o.sinceOpt += upserted
	due := o.sinceOpt >= o.cfg.OptimizeThreshold
	if due {
		o.sinceOpt = 0
	}
	o.mu.Unlock()
	if !due {
		return
	}
	if err := o.store.Optimize(ctx); err != nil {
		o.logger.Warn("post-commit optimize failed", zap.Error(err))
	}
}

// withRetry implements the chunk state machine's Failed→Pending-Embed
// retry path: up to cfg.MaxRetries attempts, exponential backoff, only
// for errors the provider/store mark transient.
func (o *Orchestrator) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !semerr.IsTransient(err) {
			return err
		}
		if attempt == o.cfg.MaxRetries {
			break
		}
		delay := time.Duration(float64(o.cfg.RetryBaseDelay) * pow(o.cfg.RetryFactor, attempt-1))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return semerr.New(semerr.Cancelled, ctx.Err())
		}
	}
	return lastErr
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
