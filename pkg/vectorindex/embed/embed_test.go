package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "retry the flaky deploy step")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "retry the flaky deploy step")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, Cosine(a, b), 1e-6)
}

func TestHashEmbedder_UnitLength(t *testing.T) {
	vec, err := NewHashEmbedder(32).Embed(context.Background(), "database timeout during migration")
	require.NoError(t, err)

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashEmbedder_StopWordsOnly(t *testing.T) {
	vec, err := NewHashEmbedder(16).Embed(context.Background(), "the and of")
	require.NoError(t, err)
	for _, x := range vec {
		assert.Zero(t, x)
	}
}

func TestHashEmbedder_SimilarTextScoresHigher(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	query, _ := e.Embed(ctx, "deploy rollback")
	near, _ := e.Embed(ctx, "Deploy Pattern rollback after failed deploy")
	far, _ := e.Embed(ctx, "unit tests for parser")

	assert.Greater(t, Cosine(query, near), Cosine(query, far))
}

func TestHashEmbedder_DefaultDimension(t *testing.T) {
	assert.Equal(t, 256, NewHashEmbedder(0).Dimension())
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestDocument(t *testing.T) {
	assert.Equal(t, "Deploy Pattern. steady deploy tool_execution",
		Document("Deploy Pattern", "steady", []string{"deploy", "tool_execution"}))
}
