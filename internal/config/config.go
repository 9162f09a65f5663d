// Package config loads daemon configuration from defaults, an optional
// YAML file, and environment variable overrides, in that precedence
// order. The daemon reads the snapshot once at startup; changing
// settings requires a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete xtrc daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	LLM       LLMConfig       `yaml:"llm"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP daemon.
type ServerConfig struct {
	// Host to bind. Loopback only by default; the daemon serves a
	// single machine.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider selects the embedder: "ollama" (default) or "static".
	// Static is a deterministic hash embedder for offline use and tests.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// Dimensions is auto-detected from the first embedding when 0.
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	OllamaHost string `yaml:"ollama_host"`
	// CacheSize bounds the in-memory embedding LRU.
	CacheSize int `yaml:"cache_size"`
}

// ChunkingConfig bounds semantic chunk sizes in estimated tokens.
type ChunkingConfig struct {
	MinTokens    int `yaml:"min_tokens"`
	MaxTokens    int `yaml:"max_tokens"`
	TargetTokens int `yaml:"target_tokens"`
}

// LLMConfig configures the optional LLM collaborator.
// The collaborator is advisory: every call has a hard timeout and every
// failure degrades to the heuristic pipeline.
type LLMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // "gemini" or "openai"
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	// Threshold is the top-score confidence below which rerank is invoked.
	Threshold float64 `yaml:"threshold"`
	TimeoutMS int     `yaml:"timeout_ms"`

	EnableRewrite bool   `yaml:"enable_rewrite"`
	RewriteModel  string `yaml:"rewrite_model"`

	SummarizeOnIndex bool   `yaml:"summarize_on_index"`
	SummaryModel     string `yaml:"summary_model"`
	SummaryMaxChars  int    `yaml:"summary_max_chars"`
}

// Timeout returns the per-call LLM timeout as a duration.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RerankerConfig configures the local cross-encoder reranker.
type RerankerConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is an HTTP server exposing a /rerank route.
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	TopK     int    `yaml:"top_k"`
}

// ScoringConfig holds the heuristic multipliers applied after the
// weighted blend.
type ScoringConfig struct {
	RouteBoost   float64 `yaml:"route_boost"`
	IntentBoost  float64 `yaml:"intent_boost"`
	NoisePenalty float64 `yaml:"noise_penalty"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	FilePath  string `yaml:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// NewConfig creates a Config with the documented defaults.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "bge-m3",
			Dimensions: 0, // auto-detect from embedder
			BatchSize:  64,
			OllamaHost: "http://localhost:11434",
			CacheSize:  4096,
		},
		Chunking: ChunkingConfig{
			MinTokens:    200,
			MaxTokens:    800,
			TargetTokens: 500,
		},
		LLM: LLMConfig{
			Enabled:          false,
			Provider:         "gemini",
			Model:            "gemini-2.0-flash",
			Threshold:        0.85,
			TimeoutMS:        2000,
			EnableRewrite:    false,
			RewriteModel:     "gemini-2.0-flash-lite",
			SummarizeOnIndex: false,
			SummaryModel:     "gemini-2.0-flash-lite",
			SummaryMaxChars:  320,
		},
		Reranker: RerankerConfig{
			Enabled:  false,
			Endpoint: "http://localhost:9659",
			Model:    "bge-reranker-v2-m3",
			TopK:     10,
		},
		Scoring: ScoringConfig{
			RouteBoost:   1.3,
			IntentBoost:  1.2,
			NoisePenalty: 0.7,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// Load builds the configuration for a daemon started in dir.
// Precedence, lowest to highest: defaults, xtrc.yaml in dir,
// XTRC_* environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile loads xtrc.yaml or xtrc.yml from dir if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"xtrc.yaml", "xtrc.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	// No config file is fine, defaults apply.
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("XTRC_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("XTRC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("XTRC_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("XTRC_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("XTRC_OLLAMA_HOST"); v != "" {
		c.Embedding.OllamaHost = v
	}

	if v := os.Getenv("USE_LLM"); v != "" {
		c.LLM.Enabled = envBool(v)
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil && t >= 0 && t <= 1 {
			c.LLM.Threshold = t
		}
	}
	if v := os.Getenv("LLM_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.LLM.TimeoutMS = ms
		}
	}
	if v := os.Getenv("LLM_ENABLE_REWRITE"); v != "" {
		c.LLM.EnableRewrite = envBool(v)
	}
	if v := os.Getenv("REWRITE_MODEL"); v != "" {
		c.LLM.RewriteModel = v
	}
	if v := os.Getenv("SUMMARIZE_ON_INDEX"); v != "" {
		c.LLM.SummarizeOnIndex = envBool(v)
	}
	if v := os.Getenv("SUMMARY_MODEL"); v != "" {
		c.LLM.SummaryModel = v
	}
	if v := os.Getenv("SUMMARY_MAX_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LLM.SummaryMaxChars = n
		}
	}

	if v := os.Getenv("LOCAL_RERANKER_ENABLED"); v != "" {
		c.Reranker.Enabled = envBool(v)
	}
	if v := os.Getenv("LOCAL_RERANKER_ENDPOINT"); v != "" {
		c.Reranker.Endpoint = v
	}
	if v := os.Getenv("LOCAL_RERANKER_MODEL"); v != "" {
		c.Reranker.Model = v
	}
	if v := os.Getenv("LOCAL_RERANKER_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Reranker.TopK = k
		}
	}

	if v := os.Getenv("HEURISTIC_ROUTE_BOOST"); v != "" {
		if b, err := strconv.ParseFloat(v, 64); err == nil && b > 0 {
			c.Scoring.RouteBoost = b
		}
	}
	if v := os.Getenv("HEURISTIC_INTENT_BOOST"); v != "" {
		if b, err := strconv.ParseFloat(v, 64); err == nil && b > 0 {
			c.Scoring.IntentBoost = b
		}
	}
	if v := os.Getenv("HEURISTIC_NOISE_PENALTY"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil && p > 0 {
			c.Scoring.NoisePenalty = p
		}
	}

	if v := os.Getenv("CHUNK_MIN_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Chunking.MinTokens = n
		}
	}
	if v := os.Getenv("CHUNK_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Chunking.MaxTokens = n
		}
	}

	if v := os.Getenv("XTRC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("XTRC_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Chunking.MinTokens <= 0 || c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking token bounds must be positive")
	}
	if c.Chunking.MinTokens >= c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.min_tokens (%d) must be below max_tokens (%d)",
			c.Chunking.MinTokens, c.Chunking.MaxTokens)
	}
	if c.Chunking.TargetTokens < c.Chunking.MinTokens || c.Chunking.TargetTokens > c.Chunking.MaxTokens {
		c.Chunking.TargetTokens = (c.Chunking.MinTokens + c.Chunking.MaxTokens) / 2
	}
	if c.LLM.Threshold < 0 || c.LLM.Threshold > 1 {
		return fmt.Errorf("llm.threshold must be in [0,1], got %g", c.LLM.Threshold)
	}
	if c.LLM.TimeoutMS <= 0 {
		return fmt.Errorf("llm.timeout_ms must be positive, got %d", c.LLM.TimeoutMS)
	}
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("llm.provider must be gemini or openai, got %q", c.LLM.Provider)
	}
	if c.Reranker.TopK <= 0 {
		return fmt.Errorf("reranker.top_k must be positive, got %d", c.Reranker.TopK)
	}
	if c.Scoring.NoisePenalty > 1 {
		return fmt.Errorf("scoring.noise_penalty must not exceed 1, got %g", c.Scoring.NoisePenalty)
	}
	return nil
}

func envBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
