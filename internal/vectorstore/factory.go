package vectorstore

import (
	"context"

	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// Backend selects which Store implementation New builds.
type Backend string

const (
	BackendEmbedded Backend = "embedded"
	BackendQdrant   Backend = "qdrant"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend   Backend
	Dimension int
	Index     IndexConfig
	Qdrant    QdrantConfig

	// PersistPath is where the embedded backend keeps its row table on
	// disk. Empty means in-memory only (rows do not survive a restart);
	// ignored when Backend is BackendQdrant, which owns its own durability.
	PersistPath string
}

// New builds the Store the workspace is configured for.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Dimension <= 0 {
		return nil, semerr.Newf(semerr.Config, "vectorstore: dimension must be positive")
	}

	switch cfg.Backend {
	case "", BackendEmbedded:
		idx := cfg.Index
		if idx.NIndexThreshold == 0 {
			idx = DefaultIndexConfig()
		}
		return OpenEmbeddedStore(cfg.PersistPath, cfg.Dimension, idx)
	case BackendQdrant:
		qcfg := cfg.Qdrant
		qcfg.Dimension = cfg.Dimension
		return NewQdrantStore(ctx, qcfg)
	default:
		return nil, semerr.Newf(semerr.Config, "vectorstore: unknown backend %q", cfg.Backend)
	}
}
