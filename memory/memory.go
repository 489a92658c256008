package memory

import (
	"context"
	"errors"
	"math"
)

// Common errors returned by memory collaborators.
var (
	// ErrIndexUnavailable is returned when the vector index cannot be
	// reached or rejects the operation. Non-fatal: callers degrade to
	// emptier context.
	ErrIndexUnavailable = errors.New("memory: index unavailable")

	// ErrEmbeddingUnavailable is returned when the embedding provider
	// fails. Retryable off the query path, degradable on it.
	ErrEmbeddingUnavailable = errors.New("memory: embedding unavailable")
)

// Filter scopes an index search. UserID is required; ConversationID is
// optional and narrows recall to a single conversation.
type Filter struct {
	UserID         string
	ConversationID string
}

// Match pairs a chunk with its raw cosine similarity to the query vector.
type Match struct {
	Chunk      *Chunk
	Similarity float64
}

// Index is the append-only vector store for memory chunks.
//
// Concurrent upserts never conflict: chunk ids are unique per chunk.
// Chunks are immutable once written and are retired only by external
// eviction policy, never rewritten.
type Index interface {
	// Upsert writes a chunk with its embedding already set.
	Upsert(ctx context.Context, chunk *Chunk) error

	// Search returns the topK chunks most similar to the query vector,
	// restricted by the filter, sorted by similarity (highest first).
	Search(ctx context.Context, vector []float32, filter Filter, topK int) ([]Match, error)
}

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched or zero-norm vectors score 0.
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
