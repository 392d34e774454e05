// Package config loads crawldex configuration.
//
// Values are applied in order of increasing precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. YAML file (--config, or crawldex.yaml / crawldex.yml in the working directory)
//  3. Environment variables (CRAWLDEX_*)
//  4. CLI flags, applied by the caller after Load
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	cerrors "github.com/crawldex/crawldex/internal/errors"
	"github.com/crawldex/crawldex/internal/logging"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "crawldex.yaml"

// Engine backends.
const (
	BackendLocal      = "local"
	BackendOpenSearch = "opensearch"
)

// Embedding providers.
const (
	ProviderStatic = "static"
	ProviderOllama = "ollama"
)

// Config represents the complete crawldex configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine" json:"engine"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// EngineConfig selects and connects to the index engine.
type EngineConfig struct {
	// Backend is "local" (embedded bleve + hnsw) or "opensearch".
	Backend string `yaml:"backend" json:"backend"`
	// Index is the index name documents are written to and searched in.
	Index string `yaml:"index" json:"index"`

	// OpenSearch connection. Credentials are never defaulted.
	Addresses          []string `yaml:"addresses,omitempty" json:"addresses,omitempty"`
	Username           string   `yaml:"username" json:"username"`
	Password           string   `yaml:"password" json:"-"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	// ModelID is the deployed text-embedding model used by neural clauses.
	ModelID string `yaml:"model_id" json:"model_id"`

	// DataDir holds the local engine's files. Empty keeps the index in memory.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Compaction controls when the local engine rebuilds its vector graphs.
	Compaction CompactionConfig `yaml:"compaction" json:"compaction"`
}

// CompactionConfig configures vector graph compaction in the local engine.
// Replaced embeddings leave orphan nodes behind; a graph is rebuilt from its
// live vectors once both limits are passed.
type CompactionConfig struct {
	// OrphanThreshold is the orphan share of graph nodes, in [0, 1].
	OrphanThreshold float64 `yaml:"orphan_threshold" json:"orphan_threshold"`
	// MinOrphanCount keeps small graphs from being rebuilt over a few orphans.
	MinOrphanCount int `yaml:"min_orphan_count" json:"min_orphan_count"`
}

// EmbeddingsConfig configures the embedder used by the local engine.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// CacheSize bounds the query embedding LRU cache. Zero disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IngestConfig configures the crawl walk and bulk writes.
type IngestConfig struct {
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	MaxDepth      int           `yaml:"max_depth" json:"max_depth"`
	MaxFileSize   int64         `yaml:"max_file_size" json:"max_file_size"`
	// Exclude holds doublestar patterns matched against crawl-root-relative paths.
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// SearchConfig holds the query composition tunables.
type SearchConfig struct {
	K                int `yaml:"k" json:"k"`
	TerminateAfter   int `yaml:"terminate_after" json:"terminate_after"`
	HybridSize       int `yaml:"hybrid_size" json:"hybrid_size"`
	MLTSize          int `yaml:"mlt_size" json:"mlt_size"`
	MLTMinTermFreq   int `yaml:"mlt_min_term_freq" json:"mlt_min_term_freq"`
	MLTMaxQueryTerms int `yaml:"mlt_max_query_terms" json:"mlt_max_query_terms"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Port           int      `yaml:"port" json:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	// LegacyTransportStatus answers engine failures with 400 instead of 502.
	LegacyTransportStatus bool          `yaml:"legacy_transport_status" json:"legacy_transport_status"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RequestTimeout        time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	Dir       string `yaml:"dir" json:"dir"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Backend: BackendLocal,
			Index:   "crawl-data",
			Compaction: CompactionConfig{
				OrphanThreshold: 0.2,
				MinOrphanCount:  100,
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:   ProviderStatic,
			Model:      "nomic-embed-text",
			OllamaHost: "http://localhost:11434",
			CacheSize:  1000,
		},
		Ingest: IngestConfig{
			BatchSize:     50,
			FlushInterval: time.Second,
			MaxDepth:      64,
			MaxFileSize:   10 * 1024 * 1024,
		},
		Search: SearchConfig{
			K:                100,
			TerminateAfter:   1000,
			HybridSize:       500,
			MLTSize:          10,
			MLTMinTermFreq:   1,
			MLTMaxQueryTerms: 15,
		},
		Server: ServerConfig{
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Dir:       logging.DefaultLogDir(),
			MaxSizeMB: 10,
			MaxFiles:  5,
			Stderr:    false,
		},
	}
}

// Load builds the effective configuration.
// An explicit path must exist; with an empty path the default file names in
// the working directory are tried and their absence is fine.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	} else if found := findDefaultFile("."); found != "" {
		if err := cfg.loadYAML(found); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, cerrors.ConfigError("invalid environment override", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, cerrors.ConfigError("invalid configuration", err).
			WithSuggestion("run 'crawldex config show' to inspect the effective values")
	}

	return cfg, nil
}

// findDefaultFile returns crawldex.yaml or crawldex.yml in dir, if present.
func findDefaultFile(dir string) string {
	for _, name := range []string{DefaultFileName, "crawldex.yml"} {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// loadYAML overlays the file at path onto c. Unknown keys are rejected.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cerrors.New(cerrors.ErrCodeConfigNotFound, fmt.Sprintf("config file not found: %s", path), err).
				WithSuggestion("create one with 'crawldex config init'")
		}
		return cerrors.ConfigError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return cerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

// applyEnvOverrides applies CRAWLDEX_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"CRAWLDEX_ENGINE_BACKEND":      &c.Engine.Backend,
		"CRAWLDEX_INDEX":               &c.Engine.Index,
		"CRAWLDEX_ENGINE_USERNAME":     &c.Engine.Username,
		"CRAWLDEX_ENGINE_PASSWORD":     &c.Engine.Password,
		"CRAWLDEX_MODEL_ID":            &c.Engine.ModelID,
		"CRAWLDEX_DATA_DIR":            &c.Engine.DataDir,
		"CRAWLDEX_EMBEDDINGS_PROVIDER": &c.Embeddings.Provider,
		"CRAWLDEX_EMBEDDINGS_MODEL":    &c.Embeddings.Model,
		"CRAWLDEX_OLLAMA_HOST":         &c.Embeddings.OllamaHost,
		"CRAWLDEX_LOG_LEVEL":           &c.Logging.Level,
		"CRAWLDEX_LOG_DIR":             &c.Logging.Dir,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("CRAWLDEX_ENGINE_ADDRESSES"); v != "" {
		c.Engine.Addresses = splitList(v)
	}
	if v := os.Getenv("CRAWLDEX_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	ints := map[string]*int{
		"CRAWLDEX_BATCH_SIZE": &c.Ingest.BatchSize,
		"CRAWLDEX_PORT":       &c.Server.Port,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("CRAWLDEX_FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("CRAWLDEX_FLUSH_INTERVAL: %w", err)
		}
		c.Ingest.FlushInterval = d
	}

	bools := map[string]*bool{
		"CRAWLDEX_ENGINE_INSECURE_SKIP_VERIFY": &c.Engine.InsecureSkipVerify,
		"CRAWLDEX_LEGACY_TRANSPORT_STATUS":     &c.Server.LegacyTransportStatus,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

// splitList splits a comma separated env value, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Engine.Backend) {
	case BackendLocal:
	case BackendOpenSearch:
		if len(c.Engine.Addresses) == 0 {
			return fmt.Errorf("engine.addresses is required for the opensearch backend")
		}
	default:
		return fmt.Errorf("engine.backend must be 'local' or 'opensearch', got %q", c.Engine.Backend)
	}
	if strings.TrimSpace(c.Engine.Index) == "" {
		return fmt.Errorf("engine.index must not be empty")
	}
	if t := c.Engine.Compaction.OrphanThreshold; t < 0 || t > 1 {
		return fmt.Errorf("engine.compaction.orphan_threshold must be between 0 and 1, got %g", t)
	}
	if c.Engine.Compaction.MinOrphanCount < 0 {
		return fmt.Errorf("engine.compaction.min_orphan_count must be non-negative, got %d", c.Engine.Compaction.MinOrphanCount)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case ProviderStatic, ProviderOllama:
	default:
		return fmt.Errorf("embeddings.provider must be 'static' or 'ollama', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.CacheSize < 0 {
		return fmt.Errorf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize)
	}

	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.FlushInterval < 0 {
		return fmt.Errorf("ingest.flush_interval must be non-negative, got %s", c.Ingest.FlushInterval)
	}
	if c.Ingest.MaxDepth <= 0 {
		return fmt.Errorf("ingest.max_depth must be positive, got %d", c.Ingest.MaxDepth)
	}
	if c.Ingest.MaxFileSize < 0 {
		return fmt.Errorf("ingest.max_file_size must be non-negative, got %d", c.Ingest.MaxFileSize)
	}

	positive := []struct {
		name string
		v    int
	}{
		{"search.k", c.Search.K},
		{"search.terminate_after", c.Search.TerminateAfter},
		{"search.hybrid_size", c.Search.HybridSize},
		{"search.mlt_size", c.Search.MLTSize},
		{"search.mlt_min_term_freq", c.Search.MLTMinTermFreq},
		{"search.mlt_max_query_terms", c.Search.MLTMaxQueryTerms},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.v)
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}

	return nil
}

// LoggingFor returns the logging setup for stream inside the configured dir.
func (c *Config) LoggingFor(stream logging.Stream) logging.Config {
	return logging.Config{
		Level:         c.Logging.Level,
		Dir:           c.Logging.Dir,
		Stream:        stream,
		MaxSizeMB:     c.Logging.MaxSizeMB,
		MaxFiles:      c.Logging.MaxFiles,
		WriteToStderr: c.Logging.Stderr,
	}
}

// Redacted returns a copy safe to print, with the password masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Engine.Password != "" {
		out.Engine.Password = "********"
	}
	return &out
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
