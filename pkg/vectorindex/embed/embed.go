// Package embed turns knowledge text into fixed-size vectors without a model.
package embed

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/goclaw/hmem/pkg/memory"
)

// Embedder maps text to a unit-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// HashEmbedder projects tokens into a fixed number of buckets with FNV-1a
// feature hashing. Equal text always yields the same vector, so mirrors
// stay queryable offline.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates an embedder producing vectors of size dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

// Dimension returns the vector size.
func (h *HashEmbedder) Dimension() int {
	return h.dim
}

// Embed hashes every token of text into a bucket with a signed weight and
// normalizes the result. Text without tokens yields the zero vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, token := range memory.Tokenize(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(token))
		sum := hasher.Sum64()

		bucket := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	Normalize(vec)
	return vec, nil
}

// Func adapts e to the func(ctx, text) signature used by vector stores.
func Func(e Embedder) func(ctx context.Context, text string) ([]float32, error) {
	return e.Embed
}

// Normalize scales v to unit length in place. The zero vector is unchanged.
func Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

// Cosine returns the cosine similarity of a and b, 0 when the lengths differ
// or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// Document renders knowledge as the text that gets embedded.
func Document(concept, description string, tags []string) string {
	text := concept + ". " + description
	for _, tag := range tags {
		text += " " + tag
	}
	return text
}
