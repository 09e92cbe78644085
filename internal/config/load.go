package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the loader reads, so
// llm.model is read from SOUSCHEF_LLM_MODEL.
const EnvPrefix = "SOUSCHEF"

const defaultConfigName = "souschef.yaml"

// envAliases are conventional variable names accepted in addition to the
// prefixed ones.
var envAliases = map[string][]string{
	"llm.api_key":  {"OPENAI_API_KEY"},
	"llm.base_url": {"OPENAI_BASE_URL"},
}

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	configPath string
	overrides  map[string]any
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithConfigPath forces the loader to read a specific file. A missing file is
// then an error.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithFileReader injects a custom reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = reader }
}

// WithHomeDir overrides how the loader resolves the user's home directory.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) { o.homeDir = resolver }
}

// WithOverride sets a dotted key with the highest precedence. Command line
// flags use it.
func WithOverride(key string, value any) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = map[string]any{}
		}
		o.overrides[key] = value
	}
}

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Load merges defaults, the config file, the environment and overrides, in
// increasing order of precedence, and validates the result.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := applyFile(v, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	applyEnv(v, &meta, options.envLookup)
	for key, value := range options.overrides {
		v.Set(key, value)
		meta.sources[key] = SourceOverride
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg, &meta, options.homeDir)
	if err := cfg.Validate(); err != nil {
		return Config{}, Metadata{}, err
	}
	return cfg, meta, nil
}

func applyFile(v *viper.Viper, meta *Metadata, options loadOptions) error {
	path := options.configPath
	required := path != ""
	if !required {
		if envPath, ok := options.envLookup(EnvPrefix + "_CONFIG"); ok && envPath != "" {
			path, required = envPath, true
		}
	}

	candidates := []string{path}
	if !required {
		candidates = []string{defaultConfigName}
		if home, err := options.homeDir(); err == nil && home != "" {
			candidates = append(candidates, filepath.Join(home, ".souschef", defaultConfigName))
		}
	}

	for _, candidate := range candidates {
		data, err := options.readFile(expandHome(candidate, options.homeDir))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !required {
				continue
			}
			return fmt.Errorf("read config %s: %w", candidate, err)
		}
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("parse config %s: %w", candidate, err)
		}
		for _, key := range v.AllKeys() {
			if v.InConfig(key) {
				meta.sources[key] = SourceFile
			}
		}
		meta.file = candidate
		return nil
	}
	return nil
}

// applyEnv walks every known key rather than relying on viper's automatic
// env binding, so tests can inject the lookup.
func applyEnv(v *viper.Viper, meta *Metadata, lookup EnvLookup) {
	for _, key := range v.AllKeys() {
		names := append([]string{envName(key)}, envAliases[key]...)
		for _, name := range names {
			value, ok := lookup(name)
			if !ok || strings.TrimSpace(value) == "" {
				continue
			}
			v.Set(key, strings.TrimSpace(value))
			meta.sources[key] = SourceEnv
			break
		}
	}
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func normalize(cfg *Config, meta *Metadata, homeDir func() (string, error)) {
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	// Without a key the real provider cannot answer; fall back to the offline
	// model so the console and server still start.
	if cfg.LLM.Provider == "openai" && cfg.LLM.APIKey == "" {
		cfg.LLM.Provider = "mock"
		meta.sources["llm.provider"] = SourceDefault
	}
	cfg.Checkpoint.Backend = strings.ToLower(strings.TrimSpace(cfg.Checkpoint.Backend))
	cfg.Retriever.PersistDir = expandHome(cfg.Retriever.PersistDir, homeDir)
	cfg.Checkpoint.Dir = expandHome(cfg.Checkpoint.Dir, homeDir)

	origins := cfg.Server.AllowedOrigins[:0]
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	cfg.Server.AllowedOrigins = origins
}

func expandHome(path string, homeDir func() (string, error)) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := homeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
