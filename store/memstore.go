package store

import (
	"context"
	"sync"

	"github.com/recallhq/recall-go-sdk/core"
)

// MemStore is an in-memory Store. Safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	messages map[string][]core.Message // conversation id -> ordered turns
	profiles map[string]*core.UserProfile
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		messages: make(map[string][]core.Message),
		profiles: make(map[string]*core.UserProfile),
	}
}

// AppendMessage persists a message at the tail of its conversation.
func (s *MemStore) AppendMessage(ctx context.Context, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

// RecentMessages returns up to limit trailing messages, oldest first.
func (s *MemStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]core.Message(nil), msgs...), nil
}

// LastMessageID returns the id of the newest message, or "".
func (s *MemStore) LastMessageID(ctx context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[len(msgs)-1].ID, nil
}

// GetProfile loads a profile, or ErrNotFound.
func (s *MemStore) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// PutProfile persists a profile.
func (s *MemStore) PutProfile(ctx context.Context, profile *core.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.UserID] = profile.Clone()
	return nil
}
