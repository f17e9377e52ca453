// Package config loads sleuth configuration from defaults, an optional YAML
// file and SLEUTH_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are
// separated by a double underscore: SLEUTH_STORE__FALKORDB__ADDR.
const EnvPrefix = "SLEUTH_"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFalkorDB = "falkordb"
	BackendPGVector = "pgvector"
)

// Config holds all configuration for the application
type Config struct {
	LLM       LLMConfig       `koanf:"llm"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Store     StoreConfig     `koanf:"store"`
	Corpus    CorpusConfig    `koanf:"corpus"`
	Analysis  AnalysisConfig  `koanf:"analysis"`
	Server    ServerConfig    `koanf:"server"`
	Tracing   TracingConfig   `koanf:"tracing"`
}

// LLMConfig selects the completion provider.
type LLMConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv    string        `koanf:"api_key_env"`
	MaxTokens    int           `koanf:"max_tokens"`
	Timeout      time.Duration `koanf:"timeout"`
	MockScenario string        `koanf:"mock_scenario"`
}

// APIKey reads the key from the configured environment variable.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  string        `koanf:"provider"`
	Model     string        `koanf:"model"`
	BaseURL   string        `koanf:"base_url"`
	APIKeyEnv string        `koanf:"api_key_env"`
	Dimension int           `koanf:"dimension"`
	BatchSize int           `koanf:"batch_size"`
	Timeout   time.Duration `koanf:"timeout"`
	// CacheSize is the number of query embeddings kept in memory; 0 disables
	// the cache.
	CacheSize int           `koanf:"cache_size"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`
}

// APIKey reads the key from the configured environment variable.
func (c EmbeddingConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// StoreConfig selects the vector store backend.
type StoreConfig struct {
	Backend    string         `koanf:"backend"`
	Collection string         `koanf:"collection"`
	Memory     MemoryConfig   `koanf:"memory"`
	FalkorDB   FalkorDBConfig `koanf:"falkordb"`
	PGVector   PGVectorConfig `koanf:"pgvector"`
}

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	// Path is the JSON snapshot file. Empty keeps the corpus in memory only.
	Path string `koanf:"path"`
}

// FalkorDBConfig configures the FalkorDB backend.
type FalkorDBConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	PoolSize int    `koanf:"pool_size"`
}

// PGVectorConfig configures the Postgres backend.
type PGVectorConfig struct {
	DSN string `koanf:"dsn"`
}

// CorpusConfig controls bulk loading.
type CorpusConfig struct {
	// Source is loaded on start when the corpus is empty.
	Source    string `koanf:"source"`
	BatchSize int    `koanf:"batch_size"`
}

// AnalysisConfig is the result policy. It can be changed at runtime through
// the config file; see PolicyWatcher.
type AnalysisConfig struct {
	Threshold  float64       `koanf:"threshold"`
	MaxSimilar int           `koanf:"max_similar"`
	Candidates int           `koanf:"candidates"`
	JoinMode   string        `koanf:"join_mode"`
	Timeout    time.Duration `koanf:"timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen          string        `koanf:"listen"`
	MCPPath         string        `koanf:"mcp_path"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxUploadMB     int64         `koanf:"max_upload_mb"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	TLSCAPath   string `koanf:"tls_ca_path"`
	TLSInsecure bool   `koanf:"tls_insecure"`
	// SampleRatio is the fraction of root traces kept; 1 keeps all.
	SampleRatio float64 `koanf:"sample_ratio"`
}

// Defaults returns the built-in configuration as a flat koanf key map.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"llm.provider":    "openai",
		"llm.model":       "llama-3.1-8b-instant",
		"llm.base_url":    "https://api.groq.com/openai/v1",
		"llm.api_key_env": "GROQ_API_KEY",
		"llm.max_tokens":  2048,
		"llm.timeout":     "60s",

		"embedding.provider":   "hashing",
		"embedding.dimension":  384,
		"embedding.batch_size": 10,
		"embedding.timeout":    "30s",
		"embedding.cache_size": 256,
		"embedding.cache_ttl":  "10m",

		"store.backend":            BackendMemory,
		"store.collection":         "incident_embeddings",
		"store.falkordb.addr":      "localhost:6379",
		"store.falkordb.pool_size": 10,

		"corpus.batch_size": 100,

		"analysis.threshold":   50,
		"analysis.max_similar": 2,
		"analysis.candidates":  5,
		"analysis.join_mode":   "by-id",
		"analysis.timeout":     "2m",

		"server.listen":           ":8080",
		"server.mcp_path":         "/v1/mcp",
		"server.read_timeout":     "30s",
		"server.write_timeout":    "3m",
		"server.shutdown_timeout": "10s",
		"server.max_upload_mb":    32,

		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.sample_ratio": 1.0,
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("config validation failed for %q: %w", path, err)
		}
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps SLEUTH_STORE__FALKORDB__ADDR to store.falkordb.addr.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendFalkorDB:
		if c.Store.FalkorDB.Addr == "" {
			return NewConfigError("store.falkordb.addr must be set for the falkordb backend")
		}
	case BackendPGVector:
		if c.Store.PGVector.DSN == "" {
			return NewConfigError("store.pgvector.dsn must be set for the pgvector backend")
		}
	default:
		return NewConfigError(fmt.Sprintf("store.backend must be one of memory, falkordb, pgvector, got %q", c.Store.Backend))
	}

	if c.Store.Collection == "" {
		return NewConfigError("store.collection must not be empty")
	}

	if c.Embedding.Dimension < 1 {
		return NewConfigError("embedding.dimension must be at least 1")
	}

	if c.Embedding.CacheSize < 0 {
		return NewConfigError("embedding.cache_size must not be negative")
	}

	if c.Corpus.BatchSize < 1 {
		return NewConfigError("corpus.batch_size must be at least 1")
	}

	if c.LLM.Provider == "mock" && c.LLM.MockScenario == "" {
		return NewConfigError("llm.mock_scenario must be set for the mock provider")
	}

	if err := c.Analysis.Validate(); err != nil {
		return err
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return NewConfigError("tracing.sample_ratio must be between 0 and 1")
	}

	return nil
}

// Validate checks the analysis policy.
func (a AnalysisConfig) Validate() error {
	if a.Threshold < 0 || a.Threshold > 100 {
		return NewConfigError("analysis.threshold must be between 0 and 100")
	}
	if a.MaxSimilar < 0 {
		return NewConfigError("analysis.max_similar must not be negative")
	}
	if a.Candidates < 1 {
		return NewConfigError("analysis.candidates must be at least 1")
	}
	if a.JoinMode != "by-id" && a.JoinMode != "positional" {
		return NewConfigError(fmt.Sprintf("analysis.join_mode must be by-id or positional, got %q", a.JoinMode))
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
