package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, 2, cfg.Routing.MaxAttemptsPerCandidate)
	assert.Equal(t, 200*time.Millisecond, cfg.Routing.BackoffBase)
	assert.Equal(t, 20*time.Second, cfg.Routing.StreamHeartbeat)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "test")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Env)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	content := `
server:
  port: "7070"
routing:
  max_attempts_per_candidate: 4
  backoff_base: 50ms
providers:
  - id: "openai-prod"
    type: "openai"
    api_key: "sk-literal"
`
	f, err := os.CreateTemp(t.TempDir(), "config_*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	t.Setenv("CONFIG_FILE", f.Name())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 4, cfg.Routing.MaxAttemptsPerCandidate)
	assert.Equal(t, 50*time.Millisecond, cfg.Routing.BackoffBase)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "sk-literal", cfg.Providers[0].APIKey)
}

func TestLoadConfigAPIKeyResolution(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-from-env")

	content := `
providers:
  - id: "openai-prod"
    type: "openai"
    api_key: "ENV:TEST_PROVIDER_KEY"
`
	f, err := os.CreateTemp(t.TempDir(), "config_*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	t.Setenv("CONFIG_FILE", f.Name())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "sk-from-env", cfg.Providers[0].APIKey)
}
