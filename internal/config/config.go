// Package config provides configuration loading for the semantic-search
// core: environment variables and an optional YAML file, merged with
// sane defaults for every component from C1 through C10.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config holds the complete configuration for one workspace instance.
type Config struct {
	Workspace    WorkspaceConfig
	Embedder     EmbedderConfig
	Cache        CacheConfig
	MmapStore    MmapStoreConfig
	VectorStore  VectorStoreConfig
	Scanner      ScannerConfig
	Watcher      WatcherConfig
	Orchestrator OrchestratorConfig
	Query        QueryConfig
	Metrics      MetricsConfig
	Logging      LoggingConfig
}

// WorkspaceConfig locates the indexed directory and its on-disk cache.
type WorkspaceConfig struct {
	Root     string `koanf:"root"`      // directory to index
	CacheDir string `koanf:"cache_dir"` // persistent state layout root
}

// EmbedderConfig configures the reference TEI-compatible provider. Model
// and Dimension are workspace-wide invariants.
type EmbedderConfig struct {
	Provider     string        `koanf:"provider"` // "tei" (only built-in reference provider)
	BaseURL      string        `koanf:"base_url"`
	Model        string        `koanf:"model"`
	Dimension    int           `koanf:"dimension"`
	MaxBatchSize int           `koanf:"max_batch_size"`
	Timeout      time.Duration `koanf:"timeout"`
	APIKey       Secret        `koanf:"api_key"`
	RateLimit    float64       `koanf:"rate_limit"` // requests/sec to the provider; 0 disables limiting
	RateBurst    int           `koanf:"rate_burst"`
}

// CacheConfig configures C3's three tiers.
type CacheConfig struct {
	L1MaxBytes int64         `koanf:"l1_max_bytes"`
	L2MaxBytes int64         `koanf:"l2_max_bytes"`
	L3Enabled  bool          `koanf:"l3_enabled"`
	TTL        time.Duration `koanf:"ttl"`
}

// MmapStoreConfig configures C2's backing file geometry.
type MmapStoreConfig struct {
	SlotCount    uint32 `koanf:"slot_count"`
	MaxSlotBytes uint32 `koanf:"max_slot_bytes"`
}

// VectorStoreConfig selects and configures C5's backend.
type VectorStoreConfig struct {
	Backend         string  `koanf:"backend"` // "embedded" or "qdrant"
	NIndexThreshold int     `koanf:"n_index_threshold"`
	NumPartitions   int     `koanf:"num_partitions"`
	NumSubVectors   int     `koanf:"num_sub_vectors"`
	RebuildFraction float64 `koanf:"rebuild_fraction"`
	Qdrant          QdrantConfig
}

// QdrantConfig configures the external Qdrant backend.
type QdrantConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	UseTLS         bool          `koanf:"use_tls"`
	APIKey         Secret        `koanf:"api_key"`
	Collection     string        `koanf:"collection"`
	DialTimeout    time.Duration `koanf:"dial_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// ScannerConfig configures C6's directory walk.
type ScannerConfig struct {
	MaxFiles              int   `koanf:"max_files"`
	ParseConcurrency      int   `koanf:"parse_concurrency"`
	MaxFileSize           int64 `koanf:"max_file_size"`
	BatchSegmentThreshold int   `koanf:"batch_segment_threshold"`
	BatchConcurrency      int   `koanf:"batch_concurrency"`
	MaxPendingBatches     int   `koanf:"max_pending_batches"`
}

// WatcherConfig configures C7's debounce window.
type WatcherConfig struct {
	Debounce time.Duration `koanf:"debounce"`
}

// OrchestratorConfig configures C8's retry and optimize policy.
type OrchestratorConfig struct {
	OptimizeThreshold int           `koanf:"optimize_threshold"`
	MaxRetries        int           `koanf:"max_retries"`
	RetryBaseDelay    time.Duration `koanf:"retry_base_delay"`
	RetryFactor       float64       `koanf:"retry_factor"`
	QueueCapacity     int           `koanf:"queue_capacity"`
}

// QueryConfig configures C9's result cache and search defaults.
type QueryConfig struct {
	ResultCacheTTL      time.Duration `koanf:"result_cache_ttl"`
	ResultCacheCapacity int           `koanf:"result_cache_capacity"`
	SearchTimeout       time.Duration `koanf:"search_timeout"`
	DefaultMinScore     float32       `koanf:"default_min_score"`
	RerankEnabled       bool          `koanf:"rerank_enabled"`
}

// MetricsConfig configures C10's local exposition endpoint and profiler.
type MetricsConfig struct {
	Enabled          bool          `koanf:"enabled"`
	ListenAddr       string        `koanf:"listen_addr"` // host:port for promhttp; empty disables the HTTP server
	ProfileInterval  time.Duration `koanf:"profile_interval"`
	SteadyStateBytes uint64        `koanf:"steady_state_bytes"` // RSS variance threshold for "steady state"
}

// LoggingConfig configures the zap-backed logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
}

// Default returns a Config populated with every component's recommended
// default.
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root:     ".",
			CacheDir: defaultCacheDir(),
		},
		Embedder: EmbedderConfig{
			Provider:     "tei",
			BaseURL:      "http://localhost:8080",
			Model:        "BAAI/bge-small-en-v1.5",
			Dimension:    384,
			MaxBatchSize: 32,
			Timeout:      30 * time.Second,
		},
		Cache: CacheConfig{
			L1MaxBytes: 2 << 20,
			L2MaxBytes: 5 << 20,
			L3Enabled:  true,
			TTL:        300 * time.Second,
		},
		MmapStore: MmapStoreConfig{
			SlotCount:    65536,
			MaxSlotBytes: 4096,
		},
		VectorStore: VectorStoreConfig{
			Backend:         "embedded",
			NIndexThreshold: 1000,
			NumPartitions:   256,
			NumSubVectors:   48,
			RebuildFraction: 0.10,
			Qdrant: QdrantConfig{
				Host:           "localhost",
				Port:           6334,
				Collection:     "semcore_default",
				DialTimeout:    5 * time.Second,
				RequestTimeout: 5 * time.Second,
			},
		},
		Scanner: ScannerConfig{
			MaxFiles:              50_000,
			ParseConcurrency:      10,
			MaxFileSize:           10 << 20,
			BatchSegmentThreshold: 100,
			BatchConcurrency:      5,
			MaxPendingBatches:     3,
		},
		Watcher: WatcherConfig{
			Debounce: 500 * time.Millisecond,
		},
		Orchestrator: OrchestratorConfig{
			OptimizeThreshold: 1000,
			MaxRetries:        3,
			RetryBaseDelay:    100 * time.Millisecond,
			RetryFactor:       2,
			QueueCapacity:     3,
		},
		Query: QueryConfig{
			ResultCacheTTL:      300 * time.Second,
			ResultCacheCapacity: 1000,
			SearchTimeout:       5 * time.Second,
			DefaultMinScore:     0,
			RerankEnabled:       false,
		},
		Metrics: MetricsConfig{
			Enabled:          true,
			ListenAddr:       "127.0.0.1:9477",
			ProfileInterval:  30 * time.Second,
			SteadyStateBytes: 16 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func defaultCacheDir() string {
	return filepath.Join(".semcore")
}

// Validate checks the merged configuration for internal consistency and
// rejects path-traversal and injection-prone input values.
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return errors.New("workspace.root must be set")
	}
	if err := validatePath(c.Workspace.CacheDir); err != nil {
		return fmt.Errorf("invalid workspace.cache_dir: %w", err)
	}
	if c.Embedder.Dimension <= 0 {
		return fmt.Errorf("embedder.dimension must be positive, got %d", c.Embedder.Dimension)
	}
	if c.Embedder.BaseURL != "" {
		if err := validateURL(c.Embedder.BaseURL); err != nil {
			return fmt.Errorf("invalid embedder.base_url: %w", err)
		}
	}
	if c.Cache.L1MaxBytes <= 0 || c.Cache.L2MaxBytes <= 0 {
		return errors.New("cache.l1_max_bytes and cache.l2_max_bytes must be positive")
	}
	switch c.VectorStore.Backend {
	case "embedded", "qdrant":
	default:
		return fmt.Errorf("unsupported vectorstore.backend: %q (supported: embedded, qdrant)", c.VectorStore.Backend)
	}
	if c.VectorStore.Backend == "qdrant" {
		if err := validateHostname(c.VectorStore.Qdrant.Host); err != nil {
			return fmt.Errorf("invalid vectorstore.qdrant.host: %w", err)
		}
	}
	if c.Scanner.MaxFiles <= 0 || c.Scanner.ParseConcurrency <= 0 {
		return errors.New("scanner.max_files and scanner.parse_concurrency must be positive")
	}
	if c.Orchestrator.MaxRetries <= 0 {
		return errors.New("orchestrator.max_retries must be positive")
	}
	return nil
}

// validateHostname checks that a hostname is a plausible DNS name or IP,
// rejecting shell-metacharacter injection attempts before the value ever
// reaches a dial call.
func validateHostname(host string) error {
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %s", host)
	}
	invalidChars := []string{";", "\n", "\r", "$", "`", "|", "&", "<", ">", "(", ")"}
	for _, char := range invalidChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("invalid hostname: contains forbidden character %q", char)
		}
	}
	return nil
}

// validatePath rejects traversal sequences in configured on-disk paths.
func validatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains traversal sequence: %s", path)
	}
	if filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		origDepth := strings.Count(path, string(filepath.Separator))
		cleanDepth := strings.Count(clean, string(filepath.Separator))
		if cleanDepth < origDepth-1 {
			return fmt.Errorf("path traversal detected: %s (resolves to %s)", path, clean)
		}
	}
	return nil
}

// validateURL allows only http/https schemes for outbound provider calls.
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}
