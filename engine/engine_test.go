package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/recallhq/recall-go-sdk/core"
	"github.com/recallhq/recall-go-sdk/memory"
	"github.com/recallhq/recall-go-sdk/memory/embedder/mock"
	"github.com/recallhq/recall-go-sdk/store"
	"github.com/recallhq/recall-go-sdk/strategy"
)

// fakeIndex is an in-memory vector index for engine tests.
type fakeIndex struct {
	mu     sync.Mutex
	chunks []*memory.Chunk
}

func (f *fakeIndex) Upsert(ctx context.Context, chunk *memory.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, filter memory.Filter, topK int) ([]memory.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []memory.Match
	for _, c := range f.chunks {
		if c.UserID != filter.UserID {
			continue
		}
		out = append(out, memory.Match{Chunk: c, Similarity: memory.CosineSimilarity(vector, c.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.MemStore, *fakeIndex) {
	t.Helper()
	st := store.NewMemStore()
	idx := &fakeIndex{}
	e := NewEngine(st, idx, mock.New(), opts...)
	t.Cleanup(e.Close)
	return e, st, idx
}

func appendMessages(t *testing.T, st *store.MemStore, convID, userID string, contents ...string) {
	t.Helper()
	for i, content := range contents {
		err := st.AppendMessage(context.Background(), core.Message{
			ID:             fmt.Sprintf("m%d", i+1),
			ConversationID: convID,
			UserID:         userID,
			Role:           "user",
			Content:        content,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
}

func TestBuildContextMissingIDs(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if _, err := e.BuildContext(context.Background(), Request{ConversationID: "c1", Query: "hi"}); err != ErrMissingUserID {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
	if _, err := e.BuildContext(context.Background(), Request{UserID: "u1", Query: "hi"}); err != ErrMissingConversationID {
		t.Fatalf("expected ErrMissingConversationID, got %v", err)
	}
	// Memory-only recall does not need a conversation.
	if _, err := e.BuildContext(context.Background(), Request{UserID: "u1", Query: "hi", Strategy: strategy.MemoryOnly}); err != nil {
		t.Fatalf("memory_only without conversation id should succeed, got %v", err)
	}
}

func TestBuildContextStandaloneQueryNoPriorTurns(t *testing.T) {
	e, _, _ := newTestEngine(t)

	bundle, err := e.BuildContext(context.Background(), Request{
		ConversationID: "c1",
		UserID:         "u1",
		Query:          "What is the capital of France?",
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if bundle.StrategyUsed != strategy.ConversationOnly {
		t.Fatalf("strategy = %v, want conversation_only", bundle.StrategyUsed)
	}
	if len(bundle.MemoryMatches) != 0 {
		t.Fatalf("expected no memory matches, got %d", len(bundle.MemoryMatches))
	}
}

func TestBuildContextIdempotentUntilNextTurn(t *testing.T) {
	e, st, _ := newTestEngine(t)
	appendMessages(t, st, "c1", "u1",
		"Tell me about neural networks.",
		"What about training them?",
	)

	req := Request{ConversationID: "c1", UserID: "u1", Query: "what about that?"}
	first, err := e.BuildContext(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	second, err := e.BuildContext(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if first != second {
		t.Fatalf("expected cache hit to return the identical bundle")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("bundles differ across identical calls")
	}

	// A new turn moves the last message id, which must invalidate by key
	// mismatch and produce a fresh bundle.
	appendMessages(t, st, "c1", "u1", "Now explain backpropagation.")
	third, err := e.BuildContext(context.Background(), req)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if third == first {
		t.Fatalf("expected a fresh bundle after a new turn")
	}
	if len(third.ConversationExcerpt) != 3 {
		t.Fatalf("excerpt length = %d, want 3", len(third.ConversationExcerpt))
	}
}

func TestBuildContextHybridGathersBothSources(t *testing.T) {
	e, st, idx := newTestEngine(t)
	appendMessages(t, st, "c1", "u1", "We were discussing goroutine scheduling.")

	chunk := memory.NewChunk("c0", "u1", "user: goroutine scheduling uses work stealing queues", []string{"goroutine"}, nil)
	vec, err := mock.New().Embed(context.Background(), chunk.Text)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	chunk.Embedding = vec
	if err := idx.Upsert(context.Background(), chunk); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	bundle, err := e.BuildContext(context.Background(), Request{
		ConversationID: "c1",
		UserID:         "u1",
		Query:          "how do goroutine scheduling queues steal work?",
		Strategy:       strategy.Hybrid,
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if bundle.StrategyUsed != strategy.Hybrid {
		t.Fatalf("strategy = %v, want hybrid", bundle.StrategyUsed)
	}
	if len(bundle.ConversationExcerpt) != 1 {
		t.Fatalf("excerpt length = %d, want 1", len(bundle.ConversationExcerpt))
	}
	if len(bundle.MemoryMatches) != 1 {
		t.Fatalf("memory matches = %d, want 1", len(bundle.MemoryMatches))
	}
	if bundle.PreferencesApplied == nil {
		t.Fatalf("expected neutral preferences for a first-time user")
	}
}

func TestBuildContextBoundsMatchesByTopK(t *testing.T) {
	e, _, idx := newTestEngine(t)
	emb := mock.New()
	for i := 0; i < 10; i++ {
		chunk := memory.NewChunk("c0", "u1", fmt.Sprintf("user: note %d about compilers and parsing", i), nil, nil)
		vec, _ := emb.Embed(context.Background(), chunk.Text)
		chunk.Embedding = vec
		if err := idx.Upsert(context.Background(), chunk); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	bundle, err := e.BuildContext(context.Background(), Request{
		UserID:   "u1",
		Query:    "compilers and parsing notes",
		Strategy: strategy.MemoryOnly,
		TopK:     2,
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(bundle.MemoryMatches) > 2 {
		t.Fatalf("memory matches = %d, want <= 2", len(bundle.MemoryMatches))
	}
}

func TestRecordTurnThenConversationSummary(t *testing.T) {
	e, st, _ := newTestEngine(t)

	turns := []string{
		"I am reading about neural networks and the transformer architecture.",
		"How does a transformer handle long sequences?",
		"Compare the transformer against recurrent models for translation.",
		"What data do neural networks need for pretraining?",
		"And how large should the training corpus be?",
	}
	for i, content := range turns {
		e.RecordTurn("c1", core.Message{
			ID:      fmt.Sprintf("m%d", i+1),
			UserID:  "u1",
			Role:    "user",
			Content: content,
		})
	}
	e.Close() // drain the worker pool before asserting

	summary := e.GetConversationSummary("c1")
	var transformer *core.Entity
	for i := range summary.Entities {
		if summary.Entities[i].Text == "transformer" {
			transformer = &summary.Entities[i]
		}
	}
	if transformer == nil {
		t.Fatalf("transformer not tracked; entities: %+v", summary.Entities)
	}
	if transformer.Mentions != 3 {
		t.Fatalf("transformer mentions = %d, want 3", transformer.Mentions)
	}
	if transformer.Importance <= 0 {
		t.Fatalf("transformer importance = %v, want > 0", transformer.Importance)
	}
	if len(summary.Topics) == 0 {
		t.Fatalf("expected topics in summary")
	}

	// Turns must also have been persisted.
	msgs, err := st.RecentMessages(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != len(turns) {
		t.Fatalf("persisted %d messages, want %d", len(msgs), len(turns))
	}
}

func TestRecordTurnAfterCloseIsDropped(t *testing.T) {
	e, st, _ := newTestEngine(t)
	e.Close()

	e.RecordTurn("c1", core.Message{UserID: "u1", Role: "user", Content: "late turn"})

	msgs, err := st.RecentMessages(context.Background(), "c1", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected dropped turn, found %d messages", len(msgs))
	}
}

func TestGetUserSummaryFirstTimeUser(t *testing.T) {
	e, _, _ := newTestEngine(t)

	summary, err := e.GetUserSummary(context.Background(), "u-new")
	if err != nil {
		t.Fatalf("GetUserSummary: %v", err)
	}
	if summary.CommunicationStyle != "neutral" || summary.DetailLevel != 0.5 {
		t.Fatalf("expected neutral defaults, got %+v", summary)
	}
	if _, err := e.GetUserSummary(context.Background(), ""); err != ErrMissingUserID {
		t.Fatalf("expected ErrMissingUserID, got %v", err)
	}
}

func TestGetUserSummaryAfterConversationClose(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.RecordTurn("c1", core.Message{
		UserID: "u1", Role: "user",
		Content: "Please explain container networking in detail, walk me through it.",
	})
	e.RecordTurn("c1", core.Message{
		UserID: "u1", Role: "user",
		Content: "Thanks, that's all for now.",
	})
	e.Close()

	summary, err := e.GetUserSummary(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUserSummary: %v", err)
	}
	if summary.TotalConversations != 1 {
		t.Fatalf("total conversations = %d, want 1", summary.TotalConversations)
	}
	if summary.DetailLevel <= 0.5 {
		t.Fatalf("detail level = %v, want > 0.5 after a detail request", summary.DetailLevel)
	}
}

func TestConversationSummaryUnknownConversation(t *testing.T) {
	e, _, _ := newTestEngine(t)

	summary := e.GetConversationSummary("nope")
	if len(summary.Entities) != 0 || len(summary.Topics) != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
}

// stallingStore delays reads without honoring the context, simulating a
// hung backend that the gather deadline must cut off.
type stallingStore struct {
	*store.MemStore
	delay time.Duration
}

func (s *stallingStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	time.Sleep(s.delay)
	return s.MemStore.RecentMessages(ctx, conversationID, limit)
}

func (s *stallingStore) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	time.Sleep(s.delay)
	return s.MemStore.GetProfile(ctx, userID)
}

func TestBuildContextDegradesOnGatherDeadline(t *testing.T) {
	st := &stallingStore{MemStore: store.NewMemStore(), delay: 2 * time.Second}
	appendMessages(t, st.MemStore, "c1", "u1", "We were discussing neural networks.")

	e := NewEngine(st, &fakeIndex{}, mock.New(), WithConfig(Config{
		GatherTimeout: 50 * time.Millisecond,
	}))
	t.Cleanup(e.Close)

	start := time.Now()
	bundle, err := e.BuildContext(context.Background(), Request{
		ConversationID: "c1",
		UserID:         "u1",
		Query:          "what about that?",
		Strategy:       strategy.Hybrid,
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if elapsed >= time.Second {
		t.Fatalf("BuildContext took %v, should return at the gather deadline", elapsed)
	}
	if len(bundle.ConversationExcerpt) != 0 {
		t.Fatalf("expected empty excerpt from a stalled store, got %d messages", len(bundle.ConversationExcerpt))
	}
	if len(bundle.MemoryMatches) != 0 {
		t.Fatalf("expected no memory matches, got %d", len(bundle.MemoryMatches))
	}
	// A stalled profile read degrades to the neutral default, never nil.
	if bundle.PreferencesApplied == nil {
		t.Fatalf("expected neutral preferences, got nil")
	}
	if bundle.PreferencesApplied.CommunicationStyle != "neutral" {
		t.Fatalf("style = %q, want neutral", bundle.PreferencesApplied.CommunicationStyle)
	}
}

// brokenProfileStore fails profile reads with a non-NotFound error.
type brokenProfileStore struct {
	*store.MemStore
}

func (s *brokenProfileStore) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	return nil, errors.New("backend down")
}

func TestBuildContextNeutralPreferencesOnProfileFailure(t *testing.T) {
	st := &brokenProfileStore{MemStore: store.NewMemStore()}
	e := NewEngine(st, &fakeIndex{}, mock.New())
	t.Cleanup(e.Close)

	bundle, err := e.BuildContext(context.Background(), Request{
		ConversationID: "c1",
		UserID:         "u1",
		Query:          "What is the capital of France?",
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if bundle.PreferencesApplied == nil {
		t.Fatalf("expected neutral preferences, got nil")
	}
	if bundle.PreferencesApplied.UserID != "u1" || bundle.PreferencesApplied.DetailLevel != 0.5 {
		t.Fatalf("expected neutral default profile, got %+v", bundle.PreferencesApplied)
	}
}

func TestWithEmbeddingCacheWrapsEmbedder(t *testing.T) {
	e, _, _ := newTestEngine(t, WithEmbeddingCache(1<<20))

	cached, ok := e.embedder.(*memory.CachedEmbedder)
	if !ok {
		t.Fatalf("embedder not wrapped: %T", e.embedder)
	}
	vec, err := cached.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != mock.New().Dimensions() {
		t.Fatalf("vector length = %d, want %d", len(vec), mock.New().Dimensions())
	}

	// The wrapped embedder serves the query path end to end.
	bundle, err := e.BuildContext(context.Background(), Request{
		UserID:   "u1",
		Query:    "compilers and parsing notes",
		Strategy: strategy.MemoryOnly,
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if bundle.StrategyUsed != strategy.MemoryOnly {
		t.Fatalf("strategy = %v, want memory_only", bundle.StrategyUsed)
	}
}
