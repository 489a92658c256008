// Package tracker maintains the bounded, decaying map of salient entities
// and topics per conversation. It is an importance-ordered bounded map,
// not an unbounded accumulator: after every update the entity set is
// evicted back under the configured capacity.
package tracker

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/recallhq/recall-go-sdk/core"
)

const (
	// DefaultMaxEntities bounds the per-conversation entity map.
	DefaultMaxEntities = 50

	// DefaultWindow is the number of trailing messages scanned per update.
	DefaultWindow = 20

	// maxTopics bounds the ordered topic set; oldest topics roll off.
	maxTopics = 16

	// recencyHalfLifeHours tempers importance: an entity unseen for this
	// long contributes half its recency weight.
	recencyHalfLifeHours = 72
)

// Tracker tracks entities and topics across conversations. Updates to the
// same conversation are serialized; different conversations proceed
// independently.
type Tracker struct {
	maxEntities int
	window      int

	mu     sync.Mutex
	states map[string]*convState
}

type convState struct {
	mu        sync.Mutex
	ctx       core.ConversationContext
	lastMsgID string
}

// New creates a tracker. Non-positive arguments select the defaults.
func New(maxEntities, window int) *Tracker {
	if maxEntities <= 0 {
		maxEntities = DefaultMaxEntities
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		maxEntities: maxEntities,
		window:      window,
		states:      make(map[string]*convState),
	}
}

// state returns the per-conversation slot, creating it on first use.
func (t *Tracker) state(conversationID string) *convState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[conversationID]
	if !ok {
		st = &convState{ctx: core.ConversationContext{
			ConversationID: conversationID,
			Entities:       make(map[string]core.Entity),
		}}
		t.states[conversationID] = st
	}
	return st
}

// Update scans the trailing message window, increments mention counts for
// detected entities, refreshes topics and style, recomputes importance,
// and evicts back under the entity bound. Messages already processed in a
// previous call are skipped, never re-scanned. Returns a snapshot.
func (t *Tracker) Update(conversationID, userID string, recent []core.Message) core.ConversationContext {
	if len(recent) > t.window {
		recent = recent[len(recent)-t.window:]
	}

	st := t.state(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if userID != "" {
		st.ctx.UserID = userID
	}

	fresh := unprocessed(recent, st.lastMsgID)
	now := time.Now().UTC()

	var texts []string
	for _, msg := range fresh {
		texts = append(texts, msg.Content)

		for _, cand := range ExtractEntities(msg.Content) {
			key := cand.Type + ":" + cand.Text
			ent, ok := st.ctx.Entities[key]
			if !ok {
				ent = core.Entity{Text: cand.Text, Type: cand.Type}
			}
			ent.Mentions++
			if msg.CreatedAt.After(ent.LastSeenAt) {
				ent.LastSeenAt = msg.CreatedAt
			} else if ent.LastSeenAt.IsZero() {
				ent.LastSeenAt = now
			}
			st.ctx.Entities[key] = ent
		}

		for _, topic := range ExtractTopics(msg.Content) {
			st.ctx.Topics = appendTopic(st.ctx.Topics, topic)
		}
	}

	if len(fresh) > 0 {
		st.lastMsgID = fresh[len(fresh)-1].ID
		st.ctx.ConversationStyle = DetectStyle(texts)
		st.ctx.LastUpdatedAt = now
	}

	// Recompute importance for every tracked entity: the recency factor
	// moves even for entities this window did not mention.
	for key, ent := range st.ctx.Entities {
		ent.Importance = Importance(ent.Mentions, ent.LastSeenAt, now)
		st.ctx.Entities[key] = ent
	}

	t.evictLocked(&st.ctx)

	return cloneContext(st.ctx)
}

// Snapshot returns the current context for a conversation, if any.
func (t *Tracker) Snapshot(conversationID string) (core.ConversationContext, bool) {
	t.mu.Lock()
	st, ok := t.states[conversationID]
	t.mu.Unlock()
	if !ok {
		return core.ConversationContext{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return cloneContext(st.ctx), true
}

// Entities returns up to limit entities sorted by importance, highest
// first. limit <= 0 returns all tracked entities.
func (t *Tracker) Entities(conversationID string, limit int) []core.Entity {
	snap, ok := t.Snapshot(conversationID)
	if !ok {
		return nil
	}
	out := make([]core.Entity, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Importance maps mentions and recency to a bounded score: monotonically
// increasing in mention count, tempered by an exponential recency factor
// with a floor so old-but-frequent entities never decay to zero.
func Importance(mentions int, lastSeen, now time.Time) float64 {
	base := 1 - math.Exp(-float64(mentions)/4)
	ageHours := now.Sub(lastSeen).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := math.Exp(-ageHours * math.Ln2 / recencyHalfLifeHours)
	return base * (0.25 + 0.75*recency)
}

// evictLocked drops the lowest-importance entities until the bound holds,
// breaking ties by oldest last-seen (least recently mentioned first).
func (t *Tracker) evictLocked(ctx *core.ConversationContext) {
	if len(ctx.Entities) <= t.maxEntities {
		return
	}
	ents := make([]core.Entity, 0, len(ctx.Entities))
	for _, e := range ctx.Entities {
		ents = append(ents, e)
	}
	sort.Slice(ents, func(i, j int) bool {
		if ents[i].Importance != ents[j].Importance {
			return ents[i].Importance < ents[j].Importance
		}
		return ents[i].LastSeenAt.Before(ents[j].LastSeenAt)
	})
	for _, victim := range ents {
		if len(ctx.Entities) <= t.maxEntities {
			break
		}
		delete(ctx.Entities, victim.Key())
	}
}

// unprocessed returns the suffix of recent after lastMsgID. When the
// marker is absent the whole slice is new.
func unprocessed(recent []core.Message, lastMsgID string) []core.Message {
	if lastMsgID == "" {
		return recent
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].ID == lastMsgID {
			return recent[i+1:]
		}
	}
	return recent
}

// appendTopic adds a topic to the ordered set, rolling off the oldest
// when the cap is exceeded. Existing topics keep their position.
func appendTopic(topics []string, topic string) []string {
	for _, t := range topics {
		if t == topic {
			return topics
		}
	}
	topics = append(topics, topic)
	if len(topics) > maxTopics {
		topics = topics[len(topics)-maxTopics:]
	}
	return topics
}

func cloneContext(ctx core.ConversationContext) core.ConversationContext {
	cp := ctx
	cp.Topics = append([]string(nil), ctx.Topics...)
	cp.Entities = make(map[string]core.Entity, len(ctx.Entities))
	for k, v := range ctx.Entities {
		cp.Entities[k] = v
	}
	return cp
}
