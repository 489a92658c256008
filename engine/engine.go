// Package engine assembles context bundles for incoming queries and runs
// the asynchronous post-response pipeline. It is the single entry point
// callers wire against; every collaborator (store, index, embedder) is an
// injected handle so tests can substitute in-memory fakes.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/recallhq/recall-go-sdk/chunker"
	"github.com/recallhq/recall-go-sdk/classify"
	"github.com/recallhq/recall-go-sdk/core"
	"github.com/recallhq/recall-go-sdk/memory"
	"github.com/recallhq/recall-go-sdk/profile"
	"github.com/recallhq/recall-go-sdk/retriever"
	"github.com/recallhq/recall-go-sdk/store"
	"github.com/recallhq/recall-go-sdk/strategy"
	"github.com/recallhq/recall-go-sdk/tracker"
)

// Malformed-input errors, the only failures BuildContext surfaces.
var (
	ErrMissingConversationID = errors.New("engine: conversation id required by strategy")
	ErrMissingUserID         = errors.New("engine: user id required")
)

// taskQueueSize buffers recorded turns per worker shard.
const taskQueueSize = 64

// Engine builds context bundles and consumes recorded turns.
type Engine struct {
	cfg      Config
	store    store.Store
	index    memory.Index
	embedder memory.Embedder

	classifier *classify.Classifier
	tracker    *tracker.Tracker
	chunker    *chunker.Chunker
	retriever  *retriever.Retriever
	profiles   *profile.Manager

	cacheEmbeddings bool
	embedCacheBytes int64
	embedCache      *memory.CachedEmbedder

	bundles *gocache.Cache

	// turnCounts drives profile checkpointing per conversation.
	countMu    sync.Mutex
	turnCounts map[string]int

	// shards serialize turn processing per conversation.
	shards []chan core.Message
	wg     sync.WaitGroup

	closeMu sync.Mutex
	closed  bool
}

// Option configures the engine.
type Option func(*Engine)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg.withDefaults()
	}
}

// WithClassifier substitutes the query classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(e *Engine) {
		e.classifier = c
	}
}

// WithEmbeddingCache wraps the embedder in an in-process vector cache so
// repeated queries and re-chunked text skip the provider round trip.
// maxBytes <= 0 selects the cache's default size.
func WithEmbeddingCache(maxBytes int64) Option {
	return func(e *Engine) {
		e.cacheEmbeddings = true
		e.embedCacheBytes = maxBytes
	}
}

// NewEngine creates an engine over the given store, vector index, and
// embedding provider, and starts its background workers.
func NewEngine(st store.Store, index memory.Index, embedder memory.Embedder, opts ...Option) *Engine {
	e := &Engine{
		cfg:        DefaultConfig(),
		store:      st,
		index:      index,
		embedder:   embedder,
		turnCounts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.classifier == nil {
		e.classifier = classify.New(0)
	}
	if e.cacheEmbeddings {
		cached, err := memory.NewCachedEmbedder(embedder, e.embedCacheBytes)
		if err != nil {
			log.Printf("[ENGINE] embedding cache disabled: %v", err)
		} else {
			e.embedCache = cached
			e.embedder = cached
		}
	}
	e.tracker = tracker.New(e.cfg.MaxContextEntities, e.cfg.EntityWindowMessages)
	e.chunker = chunker.New(index, e.embedder, chunker.Config{
		ChunkSize:      e.cfg.MemoryChunkSize,
		ShiftThreshold: e.cfg.TopicShiftThreshold,
	})
	e.retriever = retriever.New(index, e.embedder, e.cfg.GatherTimeout)
	e.profiles = profile.NewManager(st, e.cfg.CacheTTL)
	e.bundles = gocache.New(e.cfg.CacheTTL, 2*e.cfg.CacheTTL)

	e.shards = make([]chan core.Message, e.cfg.Workers)
	for i := range e.shards {
		ch := make(chan core.Message, taskQueueSize)
		e.shards[i] = ch
		e.wg.Add(1)
		go e.consume(ch)
	}
	return e
}

// Request is the input to BuildContext.
type Request struct {
	ConversationID string
	UserID         string
	Query          string

	// Strategy is the requested plan; Auto lets the classifier decide.
	Strategy strategy.Strategy

	// TopK overrides the configured memory match cap when > 0.
	TopK int
}

// ContextBundle is the assembled context for one query. Ephemeral: built
// per query, cached briefly, never persisted.
type ContextBundle struct {
	StrategyUsed        strategy.Strategy `json:"strategy_used"`
	ConversationExcerpt []core.Message    `json:"conversation_excerpt"`
	MemoryMatches       []retriever.Match `json:"memory_matches"`
	Entities            []core.Entity     `json:"entities"`
	Topics              []string          `json:"topics"`
	PreferencesApplied  *core.UserProfile `json:"preferences_applied"`
}

// BuildContext assembles the context bundle for a query. Internal failures
// degrade the bundle's richness; the only errors returned are malformed
// inputs (ids missing for the requested strategy).
func (e *Engine) BuildContext(ctx context.Context, req Request) (*ContextBundle, error) {
	if req.UserID == "" {
		return nil, ErrMissingUserID
	}
	if req.ConversationID == "" && req.Strategy != strategy.MemoryOnly {
		return nil, ErrMissingConversationID
	}

	// === PHASE 0: CACHE LOOKUP ===
	lastID := ""
	if req.ConversationID != "" {
		id, err := e.store.LastMessageID(ctx, req.ConversationID)
		if err != nil {
			log.Printf("[ENGINE] last message lookup failed: %v", err)
		} else {
			lastID = id
		}
	}

	cls := e.classifier.Classify(req.Query, lastID != "")
	resolved := strategy.Resolve(req.Strategy, cls, e.cfg.AutoHybridConfidenceThreshold)

	key := cacheKey(req.ConversationID, lastID, resolved)
	if val, found := e.bundles.Get(key); found {
		if bundle, ok := val.(*ContextBundle); ok {
			return bundle, nil
		}
		e.bundles.Delete(key) // corrupt entry: invalidate and rebuild
	}

	// === PHASE 1: CONCURRENT GATHER ===
	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	gctx, cancel := context.WithTimeout(ctx, e.cfg.GatherTimeout)
	defer cancel()

	var excerptCh chan []core.Message
	if resolved.NeedsConversation() {
		excerptCh = make(chan []core.Message, 1)
		go func() {
			excerptCh <- e.excerpt(gctx, req.ConversationID)
		}()
	}
	var matchCh chan []retriever.Match
	if resolved.NeedsMemory() {
		matchCh = make(chan []retriever.Match, 1)
		go func() {
			matchCh <- e.retriever.Retrieve(gctx, retriever.Query{
				UserID:    req.UserID,
				Text:      req.Query,
				TopK:      topK,
				DecayDays: e.cfg.ContextDecayDays,
			})
		}()
	}
	prefCh := make(chan *core.UserProfile, 1)
	go func() {
		p, err := e.profiles.Get(gctx, req.UserID)
		if err != nil {
			log.Printf("[ENGINE] profile lookup failed, using neutral: %v", err)
			p = profile.Neutral(req.UserID)
		}
		prefCh <- p
	}()

	// Join with a deadline; a source that misses it contributes an empty
	// default rather than delaying the response. Preferences start neutral
	// so a timed-out lookup still yields a usable profile.
	var (
		excerpt []core.Message
		matches []retriever.Match
		prefs   = profile.Neutral(req.UserID)
	)
	timer := time.NewTimer(e.cfg.GatherTimeout)
	defer timer.Stop()
	for excerptCh != nil || matchCh != nil || prefCh != nil {
		select {
		case excerpt = <-excerptCh:
			excerptCh = nil
		case matches = <-matchCh:
			matchCh = nil
		case prefs = <-prefCh:
			prefCh = nil
		case <-timer.C:
			log.Printf("[ENGINE] gather deadline hit, degrading bundle for conversation %s", req.ConversationID)
			excerptCh, matchCh, prefCh = nil, nil, nil
		}
	}

	// === PHASE 2: ASSEMBLE ===
	if len(matches) > topK {
		matches = matches[:topK]
	}
	entities := e.tracker.Entities(req.ConversationID, e.cfg.MaxContextEntities)
	var topics []string
	if snap, ok := e.tracker.Snapshot(req.ConversationID); ok {
		topics = snap.Topics
	}

	bundle := &ContextBundle{
		StrategyUsed:        resolved,
		ConversationExcerpt: excerpt,
		MemoryMatches:       matches,
		Entities:            entities,
		Topics:              topics,
		PreferencesApplied:  prefs,
	}
	e.bundles.Set(key, bundle, gocache.DefaultExpiration)
	return bundle, nil
}

// excerpt reads the trailing conversation window, degrading to empty.
func (e *Engine) excerpt(ctx context.Context, conversationID string) []core.Message {
	msgs, err := e.store.RecentMessages(ctx, conversationID, e.cfg.EntityWindowMessages)
	if err != nil {
		log.Printf("[ENGINE] excerpt read failed for conversation %s: %v", conversationID, err)
		return nil
	}
	return msgs
}

// RecordTurn enqueues a turn for asynchronous processing: persistence,
// chunking, entity tracking, and profile checkpointing all happen off the
// request path. Fire-and-forget; a full queue drops the turn with a log
// line rather than blocking the caller.
func (e *Engine) RecordTurn(conversationID string, msg core.Message) {
	msg.ConversationID = conversationID
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		log.Printf("[ENGINE] turn dropped, engine closed: conversation %s", conversationID)
		return
	}
	shard := e.shards[shardFor(conversationID, len(e.shards))]
	select {
	case shard <- msg:
	default:
		log.Printf("[ENGINE] turn queue full, dropping turn for conversation %s", conversationID)
	}
	e.closeMu.Unlock()
}

// shardFor keys a conversation to a worker so its turns process in order.
func shardFor(conversationID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return int(h.Sum32() % uint32(n))
}

// consume is the worker loop for one shard.
func (e *Engine) consume(ch <-chan core.Message) {
	defer e.wg.Done()
	for msg := range ch {
		e.processTurn(msg)
	}
}

// processTurn runs the post-response pipeline for one message.
func (e *Engine) processTurn(msg core.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.GatherTimeout)
	defer cancel()

	if err := e.store.AppendMessage(ctx, msg); err != nil {
		log.Printf("[ENGINE] append failed for conversation %s: %v", msg.ConversationID, err)
	}

	if err := e.chunker.OnTurn(ctx, msg); err != nil {
		log.Printf("[CHUNKER] turn failed for conversation %s: %v", msg.ConversationID, err)
	}

	recent, err := e.store.RecentMessages(ctx, msg.ConversationID, e.cfg.EntityWindowMessages)
	if err != nil {
		log.Printf("[ENGINE] window read failed for conversation %s: %v", msg.ConversationID, err)
		recent = []core.Message{msg}
	}
	e.tracker.Update(msg.ConversationID, msg.UserID, recent)

	if msg.UserID == "" {
		return
	}

	// Profile merges run at checkpoints, not every turn, so interests are
	// not decayed once per message.
	e.countMu.Lock()
	e.turnCounts[msg.ConversationID]++
	count := e.turnCounts[msg.ConversationID]
	e.countMu.Unlock()

	sig := profile.ExtractSignals(recent)
	switch {
	case sig.ConversationClosed:
		e.chunker.Flush(ctx, msg.ConversationID)
		if err := e.profiles.Observe(ctx, msg.UserID, sig); err != nil {
			log.Printf("[PROFILE] close observe failed for user %s: %v", msg.UserID, err)
		}
	case count%e.cfg.MemoryChunkSize == 0:
		if err := e.profiles.Observe(ctx, msg.UserID, sig); err != nil {
			log.Printf("[PROFILE] checkpoint observe failed for user %s: %v", msg.UserID, err)
		}
	}
}

// ConversationSummary reports what the tracker knows about a conversation.
type ConversationSummary struct {
	ConversationID    string        `json:"conversation_id"`
	Topics            []string      `json:"topics"`
	Entities          []core.Entity `json:"entities"`
	ConversationStyle string        `json:"conversation_style"`
}

// GetConversationSummary returns the tracked topics, entities, and style
// for a conversation. Unknown conversations yield an empty summary.
func (e *Engine) GetConversationSummary(conversationID string) ConversationSummary {
	summary := ConversationSummary{ConversationID: conversationID}
	snap, ok := e.tracker.Snapshot(conversationID)
	if !ok {
		return summary
	}
	summary.Topics = snap.Topics
	summary.ConversationStyle = snap.ConversationStyle
	summary.Entities = e.tracker.Entities(conversationID, e.cfg.MaxContextEntities)
	return summary
}

// UserSummary reports a user's learned preferences.
type UserSummary struct {
	UserID             string   `json:"user_id"`
	DetailLevel        float64  `json:"detail_level"`
	CommunicationStyle string   `json:"communication_style"`
	TopicsOfInterest   []string `json:"topics_of_interest"`
	ExpertiseAreas     []string `json:"expertise_areas"`
	TotalConversations int      `json:"total_conversations"`
}

// GetUserSummary returns the stored preference profile for a user.
// First-time users get the neutral defaults.
func (e *Engine) GetUserSummary(ctx context.Context, userID string) (UserSummary, error) {
	if userID == "" {
		return UserSummary{}, ErrMissingUserID
	}
	p, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return UserSummary{}, err
	}
	return UserSummary{
		UserID:             userID,
		DetailLevel:        p.DetailLevel,
		CommunicationStyle: p.CommunicationStyle,
		TopicsOfInterest:   profile.TopInterests(p, 10),
		ExpertiseAreas:     p.ExpertiseAreas,
		TotalConversations: p.TotalConversations,
	}, nil
}

// Close stops accepting turns and drains the worker pool. Safe to call
// more than once.
func (e *Engine) Close() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	for _, ch := range e.shards {
		close(ch)
	}
	e.closeMu.Unlock()
	e.wg.Wait()
	if e.embedCache != nil {
		e.embedCache.Close()
	}
}

// cacheKey identifies a bundle by conversation position and plan. Any new
// turn changes the last message id, which invalidates by key mismatch.
func cacheKey(conversationID, lastMessageID string, resolved strategy.Strategy) string {
	h := sha256.New()
	h.Write([]byte(conversationID))
	h.Write([]byte{0})
	h.Write([]byte(lastMessageID))
	h.Write([]byte{0})
	h.Write([]byte(resolved.String()))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
