package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalEmbedder is a deterministic bag-of-words feature hasher. Each token
// (and each adjacent token bigram) is hashed into one of Dims buckets with a
// hash-derived sign, and the resulting vector is L2-normalized. Identical
// text always yields identical vectors, and texts sharing vocabulary land
// near each other, which is sufficient for tiered knowledge retrieval.
type LocalEmbedder struct {
	dims int
}

// NewLocalEmbedder creates a deterministic embedder with the given dimension.
func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &LocalEmbedder{dims: dims}
}

// Dims returns the vector dimension.
func (e *LocalEmbedder) Dims() int { return e.dims }

// Embed implements Embedder. It never fails.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)

	tokens := tokenize(text)
	for i, tok := range tokens {
		e.addFeature(vec, tok)
		if i+1 < len(tokens) {
			e.addFeature(vec, tok+" "+tokens[i+1])
		}
	}

	normalize(vec)
	return vec, nil
}

// addFeature hashes a feature into its bucket with a sign bit, the standard
// feature-hashing construction.
func (e *LocalEmbedder) addFeature(vec []float32, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(e.dims))
	if (sum>>63)&1 == 1 {
		vec[bucket] -= 1
	} else {
		vec[bucket] += 1
	}
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping tokens
// shorter than 2 characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	inv := 1 / math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
