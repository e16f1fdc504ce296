package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Client.MaxRecording)
	assert.Equal(t, 150*time.Millisecond, cfg.Client.Lookahead)
	assert.Equal(t, int64(10), cfg.RateLimit.PerClientLimit)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voice-agent.yaml")
	content := `
server:
  listen_addr: ":9999"
  max_chunk_chars: 120
providers:
  openai_key: test-key
  call_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, 120, cfg.Server.MaxChunkChars)
	assert.Equal(t, "test-key", cfg.Providers.OpenAIKey)
	assert.Equal(t, 5*time.Second, cfg.Providers.CallTimeout)
	// untouched fields keep defaults
	assert.Equal(t, "gpt-4o-mini", cfg.Providers.GenerationModel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VOICE_AGENT_PROVIDERS_REPLICATE_TOKEN", "r8_test")
	t.Setenv("VOICE_AGENT_SERVER_LISTEN_ADDR", ":4000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "r8_test", cfg.Providers.ReplicateToken)
	assert.Equal(t, ":4000", cfg.Server.ListenAddr)
}

func TestLoadMissingNamedFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
