// Package embedder wraps an embedding provider with caching,
// deduplication, retry, and rate-limiting, so callers above it (the
// scanner and query engine) only ever see a plain embed(texts) -> vectors
// call.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// Provider is the minimal capability an embedding backend must offer.
// Implementations are never called directly by scanner/query code — only
// through a Wrapper.
type Provider interface {
	// EmbedBatch embeds texts in the order given. Implementations may split
	// internally but must return one vector per input text, same order.
	EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error)

	// Info reports static facts about the provider, used to populate
	// EmbedderInfo and to validate workspace dimension invariants.
	Info() EmbedderInfo
}

// EmbedderInfo describes a provider's fixed characteristics.
type EmbedderInfo struct {
	ProviderName string
	DefaultModel string
	Dimension    int
	MaxBatchSize int
}

// TEIConfig configures the reference HTTP provider, modeled on a
// Text-Embeddings-Inference-compatible server.
type TEIConfig struct {
	BaseURL      string
	Model        string
	Dimension    int
	MaxBatchSize int
	Timeout      time.Duration
}

// DefaultTEIConfig returns sane defaults; Dimension must still be set by the
// caller since it is workspace-specific.
func DefaultTEIConfig() TEIConfig {
	return TEIConfig{
		BaseURL:      "http://localhost:8080",
		Model:        "BAAI/bge-small-en-v1.5",
		MaxBatchSize: 32,
		Timeout:      30 * time.Second,
	}
}

// teiProvider is a reference Provider implementation speaking the TEI
// /embed HTTP contract.
type teiProvider struct {
	cfg    TEIConfig
	client *http.Client
}

// NewTEIProvider builds a Provider backed by a TEI-compatible HTTP endpoint.
func NewTEIProvider(cfg TEIConfig) (Provider, error) {
	if cfg.BaseURL == "" {
		return nil, semerr.Newf(semerr.Config, "embedder: base URL required")
	}
	if cfg.Dimension <= 0 {
		return nil, semerr.Newf(semerr.Config, "embedder: dimension must be positive")
	}
	return &teiProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

func (p *teiProvider) Info() EmbedderInfo {
	return EmbedderInfo{
		ProviderName: "tei",
		DefaultModel: p.cfg.Model,
		Dimension:    p.cfg.Dimension,
		MaxBatchSize: p.cfg.MaxBatchSize,
	}
}

func (p *teiProvider) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = p.cfg.Model
	}

	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, semerr.New(semerr.EmbedProvider, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, semerr.New(semerr.EmbedProvider, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Model", model)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, semerr.Transient(semerr.EmbedProvider, fmt.Errorf("calling provider: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, semerr.Transient(semerr.EmbedProvider, fmt.Errorf("provider status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, semerr.New(semerr.EmbedProvider, fmt.Errorf("provider status %d: %s", resp.StatusCode, respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, semerr.New(semerr.EmbedProvider, fmt.Errorf("decoding response: %w", err))
	}
	if len(vectors) != len(texts) {
		return nil, semerr.Newf(semerr.EmbedProvider, "provider returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for _, v := range vectors {
		if len(v) != p.cfg.Dimension {
			return nil, semerr.Newf(semerr.DimensionMismatch, "provider returned dimension %d, workspace expects %d", len(v), p.cfg.Dimension)
		}
	}
	return vectors, nil
}
