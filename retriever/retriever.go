// Package retriever queries the vector index for relevant past chunks and
// re-ranks them under time decay. It sits on the query path, so every call
// is deadline-bounded and every failure degrades to "no memory context"
// instead of an error.
package retriever

import (
	"context"
	"log"
	"math"
	"sort"
	"time"

	"github.com/recallhq/recall-go-sdk/memory"
)

const (
	// DefaultTopK is the number of matches returned to the assembler.
	DefaultTopK = 5

	// DefaultDecayDays is the age beyond which chunks are excluded.
	DefaultDecayDays = 30.0

	// DefaultTimeout bounds a retrieval round trip.
	DefaultTimeout = 2 * time.Second

	// widenFactor grows the candidate set beyond topK so decay
	// re-ranking has something to reorder.
	widenFactor = 3
)

// Match pairs a chunk with its decay-weighted relevance score.
type Match struct {
	Chunk *memory.Chunk `json:"chunk"`
	Score float64       `json:"score"`
}

// Retriever performs decay-weighted semantic recall.
type Retriever struct {
	index    memory.Index
	embedder memory.Embedder
	timeout  time.Duration
}

// New creates a retriever. timeout <= 0 selects DefaultTimeout.
func New(index memory.Index, embedder memory.Embedder, timeout time.Duration) *Retriever {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Retriever{index: index, embedder: embedder, timeout: timeout}
}

// Query scopes a retrieval call.
type Query struct {
	UserID string

	// ConversationID optionally narrows recall to one conversation.
	ConversationID string

	// Text is the query to embed and search for.
	Text string

	// TopK caps the returned matches; <= 0 selects DefaultTopK.
	TopK int

	// DecayDays is the decay window. Chunks older than this are excluded
	// outright. Zero means no window at all: retrieval returns nothing.
	DecayDays float64
}

// Retrieve embeds the query, widens a similarity search beyond topK,
// re-scores candidates as similarity * exp(-age/decay), drops everything
// older than the window, and returns the topK by final score with ties
// broken by recency. On timeout or collaborator failure it returns an
// empty list; the caller treats that as "no memory context".
func (r *Retriever) Retrieve(ctx context.Context, q Query) []Match {
	if q.DecayDays <= 0 {
		// A zero-width decay window excludes every chunk by construction.
		return nil
	}
	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vec, err := r.embedder.Embed(ctx, q.Text)
	if err != nil {
		log.Printf("[RETRIEVER] Embed failed, returning no memory context: %v", err)
		return nil
	}

	filter := memory.Filter{UserID: q.UserID, ConversationID: q.ConversationID}
	candidates, err := r.index.Search(ctx, vec, filter, topK*widenFactor)
	if err != nil {
		log.Printf("[RETRIEVER] Search failed, returning no memory context: %v", err)
		return nil
	}

	now := time.Now().UTC()
	matches := make([]Match, 0, len(candidates))
	for _, cand := range candidates {
		age := cand.Chunk.AgeDays(now)
		if age > q.DecayDays {
			continue // excluded outright, not merely down-weighted
		}
		if age < 0 {
			age = 0
		}
		score := cand.Similarity * math.Exp(-age/q.DecayDays)
		matches = append(matches, Match{Chunk: cand.Chunk, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.CreatedAt.After(matches[j].Chunk.CreatedAt)
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}
