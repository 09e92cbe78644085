// Package config loads souschef settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"time"

	"souschef/internal/observability"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Config is the full runtime configuration.
type Config struct {
	LLM        LLMConfig                   `mapstructure:"llm" yaml:"llm"`
	Agent      AgentConfig                 `mapstructure:"agent" yaml:"agent"`
	Retriever  RetrieverConfig             `mapstructure:"retriever" yaml:"retriever"`
	Scraper    ScraperConfig               `mapstructure:"scraper" yaml:"scraper"`
	Checkpoint CheckpointConfig            `mapstructure:"checkpoint" yaml:"checkpoint"`
	Server     ServerConfig                `mapstructure:"server" yaml:"server"`
	Log        observability.LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics    observability.MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing    observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// LLMConfig selects and tunes the chat model.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"` // openai, mock
	Model       string        `mapstructure:"model" yaml:"model"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// AgentConfig bounds a single turn.
type AgentConfig struct {
	MaxIterations     int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	ToolMaxConcurrent int           `mapstructure:"tool_max_concurrent" yaml:"tool_max_concurrent"`
	ToolTimeout       time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
	MaxResultTokens   int           `mapstructure:"max_result_tokens" yaml:"max_result_tokens"`
	SystemPrompt      string        `mapstructure:"system_prompt" yaml:"system_prompt"`
	SaveTimeout       time.Duration `mapstructure:"save_timeout" yaml:"save_timeout"`
}

// RetrieverConfig configures the recipe index and its embeddings.
type RetrieverConfig struct {
	TopK               int           `mapstructure:"top_k" yaml:"top_k"`
	MinSimilarity      float32       `mapstructure:"min_similarity" yaml:"min_similarity"`
	PersistDir         string        `mapstructure:"persist_dir" yaml:"persist_dir"`
	Collection         string        `mapstructure:"collection" yaml:"collection"`
	EmbeddingModel     string        `mapstructure:"embedding_model" yaml:"embedding_model"`
	EmbeddingCacheSize int           `mapstructure:"embedding_cache_size" yaml:"embedding_cache_size"`
	EmbeddingTimeout   time.Duration `mapstructure:"embedding_timeout" yaml:"embedding_timeout"`
	IndexConcurrency   int           `mapstructure:"index_concurrency" yaml:"index_concurrency"`
	ResultCacheTTL     time.Duration `mapstructure:"result_cache_ttl" yaml:"result_cache_ttl"`
}

// ScraperConfig configures recipe page fetching.
type ScraperConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// CheckpointConfig selects where threads are persisted.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // memory, file
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr               string        `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Metadata records where each loaded key came from.
type Metadata struct {
	sources  map[string]ValueSource
	file     string
	loadedAt time.Time
}

// Source returns the origin of a dotted key such as "llm.model".
func (m Metadata) Source(key string) ValueSource {
	if source, ok := m.sources[key]; ok {
		return source
	}
	return SourceDefault
}

// Sources returns a copy of all recorded origins.
func (m Metadata) Sources() map[string]ValueSource {
	out := make(map[string]ValueSource, len(m.sources))
	for k, v := range m.sources {
		out[k] = v
	}
	return out
}

// File returns the config file that was read, if any.
func (m Metadata) File() string { return m.file }

// LoadedAt returns when the configuration was assembled.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }
