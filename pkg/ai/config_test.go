package ai_test

import (
	"testing"
	"time"

	"fiction-server/pkg/ai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("AI_CLIENT_TYPE", "")

	cfg, err := ai.LoadConfig()

	require.NoError(t, err)
	assert.False(t, cfg.Enabled())
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.BaseRetryDelay)
	assert.Equal(t, 120, cfg.MaxWords)
}

func TestLoadConfig_Providers(t *testing.T) {
	t.Run("openai requires key", func(t *testing.T) {
		t.Setenv("AI_CLIENT_TYPE", "OpenAI")
		t.Setenv("AI_API_KEY", "")
		_, err := ai.LoadConfig()
		assert.ErrorContains(t, err, "AI_API_KEY is required")
	})

	t.Run("openai", func(t *testing.T) {
		t.Setenv("AI_CLIENT_TYPE", "openai")
		t.Setenv("AI_API_KEY", "k")
		t.Setenv("AI_MAX_ATTEMPTS", "4")
		cfg, err := ai.LoadConfig()
		require.NoError(t, err)
		assert.True(t, cfg.Enabled())
		assert.Equal(t, 4, cfg.MaxAttempts)
	})

	t.Run("ollama", func(t *testing.T) {
		t.Setenv("AI_CLIENT_TYPE", "ollama")
		t.Setenv("AI_BASE_URL", "http://localhost:11434")
		cfg, err := ai.LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, ai.ClientOllama, cfg.ClientType)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Setenv("AI_CLIENT_TYPE", "gemini")
		_, err := ai.LoadConfig()
		assert.ErrorContains(t, err, "unknown AI client type")
	})

	t.Run("bad attempts", func(t *testing.T) {
		t.Setenv("AI_CLIENT_TYPE", "ollama")
		t.Setenv("AI_MAX_ATTEMPTS", "0")
		_, err := ai.LoadConfig()
		assert.ErrorContains(t, err, "AI_MAX_ATTEMPTS")
	})
}
