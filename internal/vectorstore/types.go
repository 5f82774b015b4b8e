// Package vectorstore implements C5: the columnar table of embedded code
// chunks, its IVF partition index lifecycle, and the upsert/delete/search
// operations the Orchestrator (C8) and Query Engine (C9) drive it through.
package vectorstore

import (
	"context"
	"errors"
)

// Point is a single row of the code table.
type Point struct {
	ID          string
	Path        string
	Content     string
	Language    string
	StartLine   int32
	EndLine     int32
	Vector      []float32
	SegmentHash string
	Metadata    map[string]any
	TimestampMs int64
}

// SearchResult is a scored row returned from Search.
type SearchResult struct {
	ID        string
	Path      string
	Content   string
	Language  string
	StartLine int32
	EndLine   int32
	Score     float32 // similarity, 1 - cosine distance; higher is better
	Metadata  map[string]any
}

// Filter restricts Search to a subset of rows.
type Filter struct {
	Language   string
	PathPrefix string
	MinScore   float32
}

func (f Filter) matches(p *Point, score float32) bool {
	if f.Language != "" && p.Language != f.Language {
		return false
	}
	if f.PathPrefix != "" && !hasPrefix(p.Path, f.PathPrefix) {
		return false
	}
	if score < f.MinScore {
		return false
	}
	return true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ErrDimensionMismatch is returned when a vector's length does not match
// the store's established dimension D.
var ErrDimensionMismatch = errors.New("vectorstore: vector dimension mismatch")

// Store is C5's public contract. Both backends below (embedded and Qdrant)
// implement it identically from the Orchestrator's point of view.
type Store interface {
	// Upsert replaces any row with a matching id; atomic per call.
	Upsert(ctx context.Context, points []Point) error

	// DeleteByPaths deletes all rows whose Path is in paths.
	DeleteByPaths(ctx context.Context, paths []string) error

	// Search returns the top-k rows ordered by similarity score descending.
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]SearchResult, error)

	// Optimize compacts fragments and rebuilds the ANN index if stale.
	Optimize(ctx context.Context) error

	// Dimension reports D, the workspace-wide embedding width.
	Dimension() int

	// Count reports the current row count.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}
