// Package config handles loading and validating pipeline configuration.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kea-dev/kea/internal/provider"
)

// Config is the top-level configuration for the KEA pipeline service.
type Config struct {
	Server    ServerConfig                        `koanf:"server"`
	Pipeline  PipelineConfig                      `koanf:"pipeline"`
	Providers map[string]ProviderDescriptorConfig `koanf:"providers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// PipelineConfig holds orchestrator-wide tunables.
type PipelineConfig struct {
	// ProviderTimeoutSeconds is the base per-provider timeout for one stage,
	// before the stage-timeout multiplier and the free-tier multiplier are
	// applied.
	ProviderTimeoutSeconds int `koanf:"provider_timeout_seconds"`
	// MinProviders is how many successful stage-1/stage-2 records the
	// pipeline needs before continuing to the next stage.
	MinProviders int `koanf:"min_providers"`
}

// ProviderDescriptorConfig holds the settings for a single provider entry,
// as loaded from config. Kind selects which of the five wire protocols the
// registry builds an adapter for.
type ProviderDescriptorConfig struct {
	Kind    string `koanf:"kind"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "KEA_" can override a config value:
	//   KEA_SERVER_PORT -> server.port
	//   KEA_PIPELINE_MIN_PROVIDERS -> pipeline.min_providers
	if err := k.Load(env.Provider("KEA_", ".", func(s string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(s, "KEA_")),
			"_", ".", 1,
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in provider API keys, so config files
	// can be committed without secrets.
	for name, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "${") && strings.HasSuffix(p.APIKey, "}") {
			envVar := p.APIKey[2 : len(p.APIKey)-1]
			p.APIKey = os.Getenv(envVar)
			cfg.Providers[name] = p
		}
	}

	return &cfg, nil
}

// Descriptors converts the config's provider map into the ordered list of
// provider.Descriptor the registry is built from. Map iteration order isn't
// stable, so the names are sorted to keep provider label assignment (A, B,
// C, ...) deterministic across runs of the same config.
func (c *Config) Descriptors() []provider.Descriptor {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]provider.Descriptor, 0, len(names))
	for _, name := range names {
		p := c.Providers[name]
		out = append(out, provider.Descriptor{
			Name:    name,
			Kind:    provider.Kind(p.Kind),
			Model:   p.Model,
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
		})
	}
	return out
}
