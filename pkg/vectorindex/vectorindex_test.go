package vectorindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goclaw/hmem/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	base := config.DefaultConfig().Vector

	t.Run("none", func(t *testing.T) {
		idx, err := Open(base)
		require.NoError(t, err)
		assert.Nil(t, idx)
	})

	t.Run("flat", func(t *testing.T) {
		cfg := base
		cfg.Type = "flat"
		cfg.Flat.Path = filepath.Join(t.TempDir(), "vectors.bin")
		idx, err := Open(cfg)
		require.NoError(t, err)
		require.NoError(t, idx.Mirror(context.Background(), "k1", "Deploy Pattern", "rollback", nil))
		require.NoError(t, idx.Close())
		assert.FileExists(t, cfg.Flat.Path)
	})

	t.Run("chromem", func(t *testing.T) {
		cfg := base
		cfg.Type = "chromem"
		idx, err := Open(cfg)
		require.NoError(t, err)
		require.NoError(t, idx.Mirror(context.Background(), "k1", "Deploy Pattern", "rollback", nil))
		ids, err := idx.Search(context.Background(), "rollback", 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"k1"}, ids)
	})

	t.Run("qdrant dials lazily", func(t *testing.T) {
		cfg := base
		cfg.Type = "qdrant"
		idx, err := Open(cfg)
		require.NoError(t, err)
		assert.NoError(t, idx.Close())
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := base
		cfg.Type = "pinecone"
		_, err := Open(cfg)
		assert.Error(t, err)
	})
}
