package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, 200, cfg.Chunking.MinTokens)
	assert.Equal(t, 800, cfg.Chunking.MaxTokens)
	assert.Equal(t, 0.85, cfg.LLM.Threshold)
	assert.Equal(t, 2*time.Second, cfg.LLM.Timeout())
	assert.False(t, cfg.LLM.Enabled)
	assert.Equal(t, 10, cfg.Reranker.TopK)
	assert.Equal(t, 1.3, cfg.Scoring.RouteBoost)
	assert.Equal(t, 1.2, cfg.Scoring.IntentBoost)
	assert.Equal(t, 0.7, cfg.Scoring.NoisePenalty)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9000
llm:
  enabled: true
  provider: openai
  threshold: 0.5
chunking:
  min_tokens: 100
  max_tokens: 400
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xtrc.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.LLM.Enabled)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 0.5, cfg.LLM.Threshold)
	assert.Equal(t, 100, cfg.Chunking.MinTokens)
	// Unset fields keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xtrc.yaml"),
		[]byte("server:\n  port: 9000\n"), 0o644))

	t.Setenv("XTRC_PORT", "9100")
	t.Setenv("USE_LLM", "true")
	t.Setenv("LLM_THRESHOLD", "0.75")
	t.Setenv("LLM_TIMEOUT_MS", "500")
	t.Setenv("HEURISTIC_NOISE_PENALTY", "0.5")
	t.Setenv("LOCAL_RERANKER_TOP_K", "5")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.LLM.Enabled)
	assert.Equal(t, 0.75, cfg.LLM.Threshold)
	assert.Equal(t, 500*time.Millisecond, cfg.LLM.Timeout())
	assert.Equal(t, 0.5, cfg.Scoring.NoisePenalty)
	assert.Equal(t, 5, cfg.Reranker.TopK)
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	t.Setenv("XTRC_PORT", "not-a-port")
	t.Setenv("LLM_THRESHOLD", "1.5")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, 0.85, cfg.LLM.Threshold)
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cfg := NewConfig()
	cfg.Chunking.MinTokens = 900
	require.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.LLM.Provider = "mystery"
	require.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())
}

func TestEnvBool(t *testing.T) {
	assert.True(t, envBool("1"))
	assert.True(t, envBool("TRUE"))
	assert.True(t, envBool("yes"))
	assert.False(t, envBool("0"))
	assert.False(t, envBool("false"))
}
