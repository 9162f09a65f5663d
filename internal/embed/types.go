// Package embed maps text to fixed-dimension unit vectors. The Ollama
// embedder is the default provider; the static hash embedder serves
// offline use and tests. Both sit behind the cached wrapper so repeated
// content never re-embeds.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
)

// Role distinguishes document and query embeddings. BGE-style models
// prepend a retrieval instruction for queries.
type Role string

const (
	RoleDoc   Role = "doc"
	RoleQuery Role = "query"
)

// bgeQueryInstruction is the retrieval instruction BGE models expect
// in front of search queries.
const bgeQueryInstruction = "Represent this sentence for searching relevant passages: "

// Embedder generates embedding vectors for text.
// All returned vectors are L2-normalized.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string, role Role) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelID identifies the model, including version. Part of every
	// cache key so model upgrades invalidate implicitly.
	ModelID() string

	// Close releases resources.
	Close() error
}

// CacheKey derives the persistent cache key for one embedding.
func CacheKey(modelID string, role Role, text string) string {
	h := sha256.New()
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(role))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeVector L2-normalizes a vector in place and returns it.
// Zero vectors are returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
