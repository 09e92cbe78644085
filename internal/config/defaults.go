package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults used when neither the file nor the environment sets a value.
const (
	DefaultLLMProvider    = "openai"
	DefaultLLMModel       = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultMaxIterations  = 8
	DefaultTopK           = 5
	DefaultServerAddr     = ":8000"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", DefaultLLMProvider)
	v.SetDefault("llm.model", DefaultLLMModel)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 3)

	v.SetDefault("agent.max_iterations", DefaultMaxIterations)
	v.SetDefault("agent.tool_max_concurrent", 4)
	v.SetDefault("agent.tool_timeout", 30*time.Second)
	v.SetDefault("agent.max_result_tokens", 4000)
	v.SetDefault("agent.system_prompt", "")
	v.SetDefault("agent.save_timeout", 10*time.Second)

	v.SetDefault("retriever.top_k", DefaultTopK)
	v.SetDefault("retriever.min_similarity", 0.0)
	v.SetDefault("retriever.persist_dir", "~/.souschef/index")
	v.SetDefault("retriever.collection", "recipes")
	v.SetDefault("retriever.embedding_model", DefaultEmbeddingModel)
	v.SetDefault("retriever.embedding_cache_size", 1024)
	v.SetDefault("retriever.embedding_timeout", 30*time.Second)
	v.SetDefault("retriever.index_concurrency", 4)
	v.SetDefault("retriever.result_cache_ttl", 5*time.Minute)

	v.SetDefault("scraper.base_url", "https://www.bbcgoodfood.com")
	v.SetDefault("scraper.user_agent", "souschef/1.0")
	v.SetDefault("scraper.timeout", 20*time.Second)
	v.SetDefault("scraper.cache_size", 256)
	v.SetDefault("scraper.cache_ttl", time.Hour)

	v.SetDefault("checkpoint.backend", "memory")
	v.SetDefault("checkpoint.dir", "~/.souschef/threads")

	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit_per_minute", 60)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.zipkin_endpoint", "http://localhost:9411/api/v2/spans")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "souschef")
	v.SetDefault("tracing.service_version", "dev")
}

// Validate rejects settings no component could run with.
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "openai", "mock":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is outside [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must not be negative"))
	}
	if c.Agent.MaxIterations < 1 {
		errs = append(errs, errors.New("agent.max_iterations must be at least 1"))
	}
	if c.Agent.ToolMaxConcurrent < 1 {
		errs = append(errs, errors.New("agent.tool_max_concurrent must be at least 1"))
	}
	if c.Agent.MaxResultTokens < 0 {
		errs = append(errs, errors.New("agent.max_result_tokens must not be negative"))
	}
	if c.Retriever.TopK < 1 {
		errs = append(errs, errors.New("retriever.top_k must be at least 1"))
	}
	if c.Retriever.MinSimilarity < -1 || c.Retriever.MinSimilarity > 1 {
		errs = append(errs, errors.New("retriever.min_similarity must be within [-1, 1]"))
	}
	switch c.Checkpoint.Backend {
	case "memory":
	case "file":
		if strings.TrimSpace(c.Checkpoint.Dir) == "" {
			errs = append(errs, errors.New("checkpoint.dir is required for the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend %q is not supported", c.Checkpoint.Backend))
	}
	if c.Server.RateLimitPerMinute < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, errors.New("server rate limits must not be negative"))
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "zipkin":
		default:
			errs = append(errs, fmt.Errorf("tracing.exporter %q is not supported", c.Tracing.Exporter))
		}
	}
	return errors.Join(errs...)
}
