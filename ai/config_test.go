package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(
		WithHost("http://embed.local:9100"),
		WithEmbeddingModel("text-embedding-3-small"),
		WithEmbeddingDim(1536),
	)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://embed.local:9100/v1", cfg.EmbeddingHost, "host is normalized with /v1")
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, 1536, cfg.EmbeddingDim)
}

func TestConfigValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
	})

	t.Run("missing model", func(t *testing.T) {
		cfg := NewConfig(WithEmbeddingModel(""))
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive dim", func(t *testing.T) {
		cfg := NewConfig(WithEmbeddingDim(0))
		assert.Error(t, cfg.Validate())
	})

	t.Run("trailing slash is trimmed before /v1", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://localhost:11434/"))
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	})
}
