package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kea-dev/kea/internal/provider"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 60s

pipeline:
  provider_timeout_seconds: 30
  min_providers: 3

providers:
  google:
    kind: google-generate-content
    model: gemini-2.0-flash
    api_key: ${TEST_API_KEY}
    base_url: https://example.com/v1
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("TEST_API_KEY", "my-secret-key")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)

	assert.Equal(t, 30, cfg.Pipeline.ProviderTimeoutSeconds)
	assert.Equal(t, 3, cfg.Pipeline.MinProviders)

	google, ok := cfg.Providers["google"]
	assert.True(t, ok, "google provider should exist")
	assert.Equal(t, "google-generate-content", google.Kind)
	assert.Equal(t, "gemini-2.0-flash", google.Model)
	assert.Equal(t, "my-secret-key", google.APIKey)
	assert.Equal(t, "https://example.com/v1", google.BaseURL)
}

func TestLoadEnvOverride(t *testing.T) {
	// Verify that KEA_ env vars override YAML values.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 8080
  read_timeout: 30s
  write_timeout: 120s
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	t.Setenv("KEA_SERVER_PORT", "3000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestDescriptors_SortedByName(t *testing.T) {
	cfg := &Config{
		Providers: map[string]ProviderDescriptorConfig{
			"zeta":  {Kind: "anthropic-messages", Model: "claude", APIKey: "k1"},
			"alpha": {Kind: "openai-chat", Model: "gpt", APIKey: "k2"},
		},
	}

	descriptors := cfg.Descriptors()
	require.Len(t, descriptors, 2)
	assert.Equal(t, "alpha", descriptors[0].Name)
	assert.Equal(t, provider.KindOpenAIChat, descriptors[0].Kind)
	assert.Equal(t, "zeta", descriptors[1].Name)
	assert.Equal(t, provider.KindAnthropicMessages, descriptors[1].Kind)
}
