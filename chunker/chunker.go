// Package chunker segments conversation turns into memory chunks and
// writes them to the vector index. It runs off the critical path: failures
// are retried with bounded backoff, then logged and dropped; conversation
// delivery is never blocked or degraded by indexing trouble.
package chunker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/recallhq/recall-go-sdk/core"
	"github.com/recallhq/recall-go-sdk/memory"
	"github.com/recallhq/recall-go-sdk/tracker"
)

const (
	// DefaultChunkSize is the message count that forces a cut.
	DefaultChunkSize = 5

	// DefaultShiftThreshold is the cosine distance between the buffer
	// centroid and an incoming message beyond which the buffer is cut
	// early. Tuned against the mock embedder and all-MiniLM vectors.
	DefaultShiftThreshold = 0.45

	// DefaultMaxRetries bounds embed/upsert retries per chunk.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the initial backoff, doubled per attempt.
	DefaultRetryBackoff = 200 * time.Millisecond
)

// Config holds chunker tuning knobs. Zero values select the defaults.
type Config struct {
	ChunkSize      int
	ShiftThreshold float64
	MaxRetries     int
	RetryBackoff   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ShiftThreshold <= 0 {
		c.ShiftThreshold = DefaultShiftThreshold
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Chunker buffers messages per conversation and cuts chunks on size or
// topic shift.
type Chunker struct {
	index    memory.Index
	embedder memory.Embedder
	cfg      Config

	mu      sync.Mutex
	buffers map[string]*buffer
}

// buffer is the pending-message state for one conversation.
type buffer struct {
	mu       sync.Mutex
	userID   string
	msgs     []core.Message
	centroid []float32
	embedded int // messages that contributed to the centroid
	topics   []string
	entities []string
}

// New creates a chunker writing to the given index.
func New(index memory.Index, embedder memory.Embedder, cfg Config) *Chunker {
	return &Chunker{
		index:    index,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		buffers:  make(map[string]*buffer),
	}
}

func (c *Chunker) buffer(conversationID string) *buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buffers[conversationID]
	if !ok {
		b = &buffer{}
		c.buffers[conversationID] = b
	}
	return b
}

// OnTurn appends a message to the conversation's pending buffer, cutting a
// chunk when the buffer fills or the message shifts topic. The returned
// error reports only context cancellation; indexing failures are absorbed.
func (c *Chunker) OnTurn(ctx context.Context, msg core.Message) error {
	b := c.buffer(msg.ConversationID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.UserID != "" {
		b.userID = msg.UserID
	}

	vec, err := c.embedder.Embed(ctx, msg.Content)
	if err != nil {
		// Without a vector we cannot judge topic shift; buffer the
		// message anyway so the size cut still applies.
		log.Printf("[CHUNKER] Embed failed for message %s: %v", msg.ID, err)
		vec = nil
	}

	// Topic shift: cut the pending span before this message so the new
	// topic starts a fresh buffer.
	if vec != nil && b.embedded > 0 {
		distance := 1 - memory.CosineSimilarity(b.centroid, vec)
		if distance > c.cfg.ShiftThreshold {
			c.cut(ctx, msg.ConversationID, b, "topic shift")
		}
	}

	b.append(msg, vec)

	if len(b.msgs) >= c.cfg.ChunkSize {
		c.cut(ctx, msg.ConversationID, b, "chunk size")
	}
	return ctx.Err()
}

// Flush force-cuts the pending buffer for a conversation, if any.
// Called on conversation close.
func (c *Chunker) Flush(ctx context.Context, conversationID string) {
	c.mu.Lock()
	b, ok := c.buffers[conversationID]
	c.mu.Unlock()
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.msgs) > 0 {
		c.cut(ctx, conversationID, b, "flush")
	}
}

// append adds a message to the buffer and folds its vector into the
// running centroid.
func (b *buffer) append(msg core.Message, vec []float32) {
	b.msgs = append(b.msgs, msg)
	for _, topic := range tracker.ExtractTopics(msg.Content) {
		b.topics = appendUnique(b.topics, topic)
	}
	for _, cand := range tracker.ExtractEntities(msg.Content) {
		b.entities = appendUnique(b.entities, cand.Text)
	}
	if vec == nil {
		return
	}
	if b.centroid == nil {
		b.centroid = append([]float32(nil), vec...)
		b.embedded = 1
		return
	}
	// Incremental mean over the embedded messages of the span.
	n := float32(b.embedded)
	for i := range b.centroid {
		b.centroid[i] = (b.centroid[i]*n + vec[i]) / (n + 1)
	}
	b.embedded++
}

// cut converts the buffered span into a chunk and writes it to the index,
// then clears the buffer. No overlap carries into the next chunk.
// Must be called with the buffer lock held.
func (c *Chunker) cut(ctx context.Context, conversationID string, b *buffer, reason string) {
	if len(b.msgs) == 0 {
		return
	}

	var sb strings.Builder
	for i, m := range b.msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}

	chunk := memory.NewChunk(conversationID, b.userID, sb.String(), b.topics, b.entities)
	span := len(b.msgs)

	b.msgs = nil
	b.centroid = nil
	b.embedded = 0
	b.topics = nil
	b.entities = nil

	if err := c.write(ctx, chunk); err != nil {
		log.Printf("[CHUNKER] Dropping chunk %s (%d messages, %s): %v", chunk.ID, span, reason, err)
		return
	}
	log.Printf("[CHUNKER] Indexed chunk %s (%d messages, %s)", chunk.ID, span, reason)
}

// write embeds and upserts a chunk with bounded exponential backoff.
func (c *Chunker) write(ctx context.Context, chunk *memory.Chunk) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if chunk.Embedding == nil {
			vec, err := c.embedder.Embed(ctx, chunk.Text)
			if err != nil {
				lastErr = err
				continue
			}
			chunk.Embedding = vec
		}

		if err := c.index.Upsert(ctx, chunk); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries: %w", c.cfg.MaxRetries, lastErr)
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
