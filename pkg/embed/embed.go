// Package embed provides text embedding for knowledge-store similarity
// search. The default embedder is deterministic and fully local, so store
// behavior is reproducible in tests and in air-gapped deployments; an
// OpenAI-backed embedder is available where semantic quality matters more
// than determinism.
package embed

import (
	"context"
	"math"
)

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	// Embed returns the vector for text. Implementations must return vectors
	// of a constant dimension for the lifetime of the embedder.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dims returns the vector dimension.
	Dims() int
}

// CosineSimilarity returns the cosine similarity of two vectors in [-1, 1].
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
