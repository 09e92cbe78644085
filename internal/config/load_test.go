package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envMap map[string]string

func (e envMap) Lookup(key string) (string, bool) {
	val, ok := e[key]
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func noFiles(string) ([]byte, error) { return nil, os.ErrNotExist }

func fakeHome() (string, error) { return "/home/cook", nil }

func TestLoadDefaults(t *testing.T) {
	cfg, meta, err := Load(WithEnv(envMap{}.Lookup), WithFileReader(noFiles), WithHomeDir(fakeHome))
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.LLM.Provider, "no api key falls back to the offline model")
	assert.Equal(t, SourceDefault, meta.Source("llm.provider"))
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 8, cfg.Agent.MaxIterations)
	assert.Equal(t, 4000, cfg.Agent.MaxResultTokens)
	assert.Equal(t, 5, cfg.Retriever.TopK)
	assert.Equal(t, "/home/cook/.souschef/index", cfg.Retriever.PersistDir)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Empty(t, meta.File())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "souschef.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: openai
  model: gpt-4o
  api_key: sk-file
  timeout: 90s
agent:
  max_iterations: 5
retriever:
  top_k: 3
  min_similarity: 0.25
checkpoint:
  backend: file
  dir: ~/threads
server:
  allowed_origins: ["https://cook.example", "http://localhost:3000"]
`), 0o600))

	cfg, meta, err := Load(WithEnv(envMap{}.Lookup), WithConfigPath(path), WithHomeDir(fakeHome))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "sk-file", cfg.LLM.APIKey)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.Equal(t, 3, cfg.Retriever.TopK)
	assert.InDelta(t, 0.25, cfg.Retriever.MinSimilarity, 1e-6)
	assert.Equal(t, "file", cfg.Checkpoint.Backend)
	assert.Equal(t, "/home/cook/threads", cfg.Checkpoint.Dir)
	assert.Equal(t, []string{"https://cook.example", "http://localhost:3000"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, SourceFile, meta.Source("llm.model"))
	assert.Equal(t, SourceDefault, meta.Source("llm.max_retries"))
	assert.Equal(t, path, meta.File())
}

func TestEnvOverridesFile(t *testing.T) {
	files := map[string]string{
		"souschef.yaml": "llm:\n  model: from-file\n  api_key: sk-file\nagent:\n  max_iterations: 5\n",
	}
	reader := func(path string) ([]byte, error) {
		if data, ok := files[path]; ok {
			return []byte(data), nil
		}
		return nil, os.ErrNotExist
	}
	env := envMap{
		"SOUSCHEF_LLM_MODEL":              "from-env",
		"SOUSCHEF_AGENT_MAX_ITERATIONS":   "12",
		"SOUSCHEF_SERVER_ALLOWED_ORIGINS": "https://a.example,https://b.example",
		"SOUSCHEF_LOG_LEVEL":              "debug",
		"SOUSCHEF_TRACING_ENABLED":        "true",
		"SOUSCHEF_TRACING_EXPORTER":       "zipkin",
	}

	cfg, meta, err := Load(WithEnv(env.Lookup), WithFileReader(reader), WithHomeDir(fakeHome))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 12, cfg.Agent.MaxIterations)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "zipkin", cfg.Tracing.Exporter)

	assert.Equal(t, SourceEnv, meta.Source("llm.model"))
	assert.Equal(t, SourceFile, meta.Source("llm.api_key"))
	assert.Equal(t, "souschef.yaml", meta.File())
}

func TestOpenAIKeyAlias(t *testing.T) {
	env := envMap{"OPENAI_API_KEY": "sk-alias"}
	cfg, meta, err := Load(WithEnv(env.Lookup), WithFileReader(noFiles), WithHomeDir(fakeHome))
	require.NoError(t, err)
	assert.Equal(t, "sk-alias", cfg.LLM.APIKey)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, SourceEnv, meta.Source("llm.api_key"))

	env["SOUSCHEF_LLM_API_KEY"] = "sk-prefixed"
	cfg, _, err = Load(WithEnv(env.Lookup), WithFileReader(noFiles), WithHomeDir(fakeHome))
	require.NoError(t, err)
	assert.Equal(t, "sk-prefixed", cfg.LLM.APIKey)
}

func TestOverridesTakePriority(t *testing.T) {
	env := envMap{"SOUSCHEF_SERVER_ADDR": ":9000"}
	cfg, meta, err := Load(
		WithEnv(env.Lookup),
		WithFileReader(noFiles),
		WithHomeDir(fakeHome),
		WithOverride("server.addr", ":9100"),
	)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, SourceOverride, meta.Source("server.addr"))
}

func TestLoadHonorsEnvConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retriever:\n  top_k: 9\n"), 0o600))

	cfg, meta, err := Load(WithEnv(envMap{"SOUSCHEF_CONFIG": path}.Lookup), WithHomeDir(fakeHome))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Retriever.TopK)
	assert.Equal(t, path, meta.File())
}

func TestExplicitConfigPathMustExist(t *testing.T) {
	_, _, err := Load(WithEnv(envMap{}.Lookup), WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
}

func TestMalformedFileIsAnError(t *testing.T) {
	reader := func(string) ([]byte, error) { return []byte("llm: [unclosed"), nil }
	_, _, err := Load(WithEnv(envMap{}.Lookup), WithFileReader(reader), WithHomeDir(fakeHome))
	require.Error(t, err)
}

func TestInvalidEnvValueIsAnError(t *testing.T) {
	env := envMap{"SOUSCHEF_AGENT_MAX_ITERATIONS": "many"}
	_, _, err := Load(WithEnv(env.Lookup), WithFileReader(noFiles), WithHomeDir(fakeHome))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, _, err := Load(WithEnv(envMap{}.Lookup), WithFileReader(noFiles), WithHomeDir(fakeHome))
	require.NoError(t, err)
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"provider":       func(c *Config) { c.LLM.Provider = "carrier-pigeon" },
		"model":          func(c *Config) { c.LLM.Model = " " },
		"temperature":    func(c *Config) { c.LLM.Temperature = 3 },
		"iterations":     func(c *Config) { c.Agent.MaxIterations = 0 },
		"concurrency":    func(c *Config) { c.Agent.ToolMaxConcurrent = 0 },
		"top k":          func(c *Config) { c.Retriever.TopK = 0 },
		"similarity":     func(c *Config) { c.Retriever.MinSimilarity = 1.5 },
		"backend":        func(c *Config) { c.Checkpoint.Backend = "redis" },
		"file dir":       func(c *Config) { c.Checkpoint.Backend = "file"; c.Checkpoint.Dir = "" },
		"rate limit":     func(c *Config) { c.Server.RateLimitBurst = -1 },
		"trace exporter": func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			cfg.Server.AllowedOrigins = append([]string(nil), base.Server.AllowedOrigins...)
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
