// Package chromem implements the memory.Index on chromem-go,
// a pure-Go embedded vector database.
package chromem

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/recallhq/recall-go-sdk/memory"
)

// Index wraps chromem-go for chunk storage.
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection // per-user collections
	mu          sync.RWMutex
}

// New creates an in-process chromem-backed index.
func New() *Index {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// NewPersistent creates an index persisted under dir, reloading any
// collections written by previous runs.
func NewPersistent(dir string) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("%w: open persistent db: %v", memory.ErrIndexUnavailable, err)
	}
	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// getOrCreateCollection returns the collection for a user.
// Each user gets their own collection for namespace isolation.
func (s *Index) getOrCreateCollection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[userID]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring the write lock.
	if col, exists := s.collections[userID]; exists {
		return col, nil
	}

	collectionName := fmt.Sprintf("user_%s", userID)
	col, err := s.db.GetOrCreateCollection(
		collectionName,
		nil, // no custom metadata
		nil, // no custom embedding func (we provide embeddings)
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", memory.ErrIndexUnavailable, err)
	}

	s.collections[userID] = col
	return col, nil
}

// Upsert writes a chunk with its embedding already set.
func (s *Index) Upsert(ctx context.Context, chunk *memory.Chunk) error {
	col, err := s.getOrCreateCollection(chunk.UserID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        chunk.ID,
		Content:   chunk.Text,
		Embedding: chunk.Embedding,
		Metadata: map[string]string{
			"conversation_id": chunk.ConversationID,
			"user_id":         chunk.UserID,
			"created_at":      chunk.CreatedAt.Format(time.RFC3339Nano),
			"topics":          strings.Join(chunk.Topics, "|"),
			"entities":        strings.Join(chunk.Entities, "|"),
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("%w: add document: %v", memory.ErrIndexUnavailable, err)
	}
	return nil
}

// Search returns the topK most similar chunks for the filter's user,
// optionally narrowed to a single conversation.
func (s *Index) Search(ctx context.Context, vector []float32, filter memory.Filter, topK int) ([]memory.Match, error) {
	col, err := s.getOrCreateCollection(filter.UserID)
	if err != nil {
		return nil, err
	}

	where := map[string]string{"user_id": filter.UserID}
	if filter.ConversationID != "" {
		where["conversation_id"] = filter.ConversationID
	}

	// chromem-go requires nResults <= collection size, so retry with
	// smaller limits until the query fits.
	var results []chromem.Result
	for limit := topK; limit >= 1; limit-- {
		results, err = col.QueryEmbedding(ctx, vector, limit, where, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if limit == 1 {
				return nil, nil // collection is empty
			}
			continue
		}
		return nil, fmt.Errorf("%w: query: %v", memory.ErrIndexUnavailable, err)
	}

	matches := make([]memory.Match, 0, len(results))
	for i, result := range results {
		chunk, err := chunkFromResult(result)
		if err != nil {
			log.Printf("[CHROMEM] Skipping result #%d: %v", i+1, err)
			continue
		}
		matches = append(matches, memory.Match{Chunk: chunk, Similarity: float64(result.Similarity)})
	}
	return matches, nil
}

// chunkFromResult rebuilds a chunk from the stored document.
func chunkFromResult(result chromem.Result) (*memory.Chunk, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, result.Metadata["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &memory.Chunk{
		ID:             result.ID,
		ConversationID: result.Metadata["conversation_id"],
		UserID:         result.Metadata["user_id"],
		Text:           result.Content,
		Embedding:      result.Embedding,
		Topics:         splitList(result.Metadata["topics"]),
		Entities:       splitList(result.Metadata["entities"]),
		CreatedAt:      createdAt,
	}, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "|")
}

// isInsufficientDocsError checks if the error is chromem telling us the
// collection holds fewer documents than nResults.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
