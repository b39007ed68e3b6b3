package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedDeterministic(t *testing.T) {
	e := NewLocalEmbedder(128)
	ctx := context.Background()

	a, err := e.Embed(ctx, "claim construction under 35 USC 112")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "claim construction under 35 USC 112")
	require.NoError(t, err)

	assert.Equal(t, a, b, "same text must always embed identically")
	assert.Len(t, a, 128)
}

func TestEmbedNormalized(t *testing.T) {
	e := NewLocalEmbedder(64)
	vec, err := e.Embed(context.Background(), "irrigation controller with moisture sensor")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestEmbedSimilarTextCloser(t *testing.T) {
	e := NewLocalEmbedder(128)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "patent claim enablement under 35 USC 112")
	near, _ := e.Embed(ctx, "enablement requirements for patent claims under 112")
	far, _ := e.Embed(ctx, "chocolate cake recipe with vanilla frosting")

	assert.Greater(t, CosineSimilarity(base, near), CosineSimilarity(base, far))
}

func TestEmbedEmptyText(t *testing.T) {
	e := NewLocalEmbedder(64)
	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err, "embedding never fails, even on empty input")
	assert.Len(t, vec, 64)
}

func TestCosineSimilarityEdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}), "dimension mismatch")
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}), "zero vector")
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{0.6, 0.8}, []float32{0.6, 0.8}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
}

func TestTokenizeDropsShortTokens(t *testing.T) {
	tokens := tokenize("a an apparatus of IP x claims")
	assert.NotContains(t, tokens, "a")
	assert.NotContains(t, tokens, "x")
	assert.Contains(t, tokens, "apparatus")
	assert.Contains(t, tokens, "claims")
}
