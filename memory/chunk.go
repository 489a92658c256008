package memory

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is an immutable, embedded span of conversation text used for
// semantic recall. Chunks are created by the chunker, written once to the
// Index, and never mutated afterwards.
type Chunk struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"embedding,omitempty"`

	// Topics and Entities are the union of what was observed across the
	// buffered span the chunk was cut from.
	Topics   []string `json:"topics,omitempty"`
	Entities []string `json:"entities,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewChunk creates a chunk with a fresh id and creation timestamp.
// The embedding is set later, after the full text has been embedded.
func NewChunk(conversationID, userID, text string, topics, entities []string) *Chunk {
	return &Chunk{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		UserID:         userID,
		Text:           text,
		Topics:         topics,
		Entities:       entities,
		CreatedAt:      time.Now().UTC(),
	}
}

// AgeDays returns the chunk age in fractional days at the given instant.
func (c *Chunk) AgeDays(now time.Time) float64 {
	return now.Sub(c.CreatedAt).Hours() / 24
}
