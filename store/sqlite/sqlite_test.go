package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/recallhq/recall-go-sdk/core"
	"github.com/recallhq/recall-go-sdk/store"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "recall.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMessages_AppendAndRecent(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	base := time.Now().UTC()

	for i := 0; i < 6; i++ {
		err := s.AppendMessage(ctx, core.Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: "c1",
			UserID:         "user1",
			Role:           "user",
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.RecentMessages(ctx, "c1", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 trailing messages, got %d", len(got))
	}
	if got[0].ID != "m2" || got[3].ID != "m5" {
		t.Errorf("expected trailing window m2..m5 oldest-first, got %s..%s", got[0].ID, got[3].ID)
	}

	last, err := s.LastMessageID(ctx, "c1")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last != "m5" {
		t.Errorf("last message id = %q, want m5", last)
	}
}

func TestLastMessageID_EmptyConversation(t *testing.T) {
	s := open(t)
	last, err := s.LastMessageID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last != "" {
		t.Errorf("expected empty id for empty conversation, got %q", last)
	}
}

func TestProfiles_RoundTripAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	if _, err := s.GetProfile(ctx, "user1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	p := &core.UserProfile{
		UserID:             "user1",
		DetailLevel:        0.7,
		CommunicationStyle: "formal",
		ExpertiseAreas:     []string{"databases", "networking"},
		TopicInterests:     map[string]float64{"sqlite": 0.9, "golang": 0.4},
		TotalConversations: 3,
		UpdatedAt:          time.Now().UTC(),
	}
	if err := s.PutProfile(ctx, p); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.GetProfile(ctx, "user1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DetailLevel != 0.7 || got.CommunicationStyle != "formal" {
		t.Errorf("profile fields lost: %+v", got)
	}
	if got.TopicInterests["sqlite"] != 0.9 {
		t.Errorf("topic interests lost: %+v", got.TopicInterests)
	}
	if len(got.ExpertiseAreas) != 2 {
		t.Errorf("expertise areas lost: %+v", got.ExpertiseAreas)
	}

	// Upsert replaces the prior row instead of erroring.
	p.TotalConversations = 4
	if err := s.PutProfile(ctx, p); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	got, err = s.GetProfile(ctx, "user1")
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if got.TotalConversations != 4 {
		t.Errorf("upsert did not replace: %+v", got)
	}
}

func TestConversationsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	s.AppendMessage(ctx, core.Message{ID: "a", ConversationID: "c1", UserID: "u", Role: "user", Content: "one", CreatedAt: time.Now()})
	s.AppendMessage(ctx, core.Message{ID: "b", ConversationID: "c2", UserID: "u", Role: "user", Content: "two", CreatedAt: time.Now()})

	got, err := s.RecentMessages(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("conversation isolation broken: %+v", got)
	}
}
