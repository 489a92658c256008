// Package profile maintains long-lived per-user communication preferences.
// Signals from individual conversations are merged into the stored profile
// through exponential moving averages, so no single conversation can erase
// long-term history, and unreinforced topic interests decay toward zero.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/recallhq/recall-go-sdk/core"
	"github.com/recallhq/recall-go-sdk/store"
)

const (
	// NewSignalWeight is the EMA weight of an incoming signal; the
	// remainder is retained from the stored profile.
	NewSignalWeight = 0.3

	// InterestDecay multiplies every topic interest not reinforced by the
	// current update.
	InterestDecay = 0.95

	// interestFloor prunes interests that have decayed to noise.
	interestFloor = 0.01

	// maxExpertiseAreas bounds the expertise set.
	maxExpertiseAreas = 12

	// DefaultCacheTTL is how long a read-side profile copy stays fresh.
	DefaultCacheTTL = time.Minute
)

// Manager merges conversation signals into durable user profiles.
// Writes for a given user are serialized so concurrent conversations from
// the same user cannot interleave read-modify-write cycles.
type Manager struct {
	profiles store.Profiles
	cache    *gocache.Cache

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a manager over the given profile store.
// cacheTTL <= 0 selects DefaultCacheTTL.
func NewManager(profiles store.Profiles, cacheTTL time.Duration) *Manager {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Manager{
		profiles: profiles,
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
		locks:    make(map[string]*sync.Mutex),
	}
}

// userLock returns the serialization lock for a user.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// Observe merges a conversation's signals into the user's profile.
func (m *Manager) Observe(ctx context.Context, userID string, sig core.Signals) error {
	if userID == "" {
		return errors.New("profile: user id required")
	}

	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, err := m.load(ctx, userID)
	if err != nil {
		return err
	}

	merge(p, sig)
	p.UpdatedAt = time.Now().UTC()

	if err := m.profiles.PutProfile(ctx, p); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	m.cache.Set(userID, p.Clone(), gocache.DefaultExpiration)
	return nil
}

// Get returns the user's profile. Unknown users get a neutral default so
// the query path never fails on a first-time user.
func (m *Manager) Get(ctx context.Context, userID string) (*core.UserProfile, error) {
	if val, found := m.cache.Get(userID); found {
		if p, ok := val.(*core.UserProfile); ok {
			return p.Clone(), nil
		}
		m.cache.Delete(userID) // corrupt entry: invalidate and rebuild
	}

	p, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.cache.Set(userID, p.Clone(), gocache.DefaultExpiration)
	return p, nil
}

// load reads the stored profile or builds a neutral default.
func (m *Manager) load(ctx context.Context, userID string) (*core.UserProfile, error) {
	p, err := m.profiles.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Neutral(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p.TopicInterests == nil {
		p.TopicInterests = map[string]float64{}
	}
	return p, nil
}

// Neutral is the default profile for users with no stored history. It is
// also the weakest safe fallback when a profile read fails or times out.
func Neutral(userID string) *core.UserProfile {
	return &core.UserProfile{
		UserID:             userID,
		DetailLevel:        0.5,
		CommunicationStyle: "neutral",
		TopicInterests:     map[string]float64{},
	}
}

// merge folds signals into the profile in place.
func merge(p *core.UserProfile, sig core.Signals) {
	if sig.DetailPreference >= 0 {
		p.DetailLevel = (1-NewSignalWeight)*p.DetailLevel + NewSignalWeight*sig.DetailPreference
	}

	if sig.Style != "" && sig.Style != p.CommunicationStyle {
		p.CommunicationStyle = stepToward(p.CommunicationStyle, sig.Style)
	}

	// Reinforced topics move toward full interest; everything else decays.
	reinforced := map[string]bool{}
	for _, topic := range sig.Topics {
		reinforced[topic] = true
		p.TopicInterests[topic] = clamp01((1-NewSignalWeight)*p.TopicInterests[topic] + NewSignalWeight)
	}
	for topic, v := range p.TopicInterests {
		if reinforced[topic] {
			continue
		}
		v *= InterestDecay
		if v < interestFloor {
			delete(p.TopicInterests, topic)
			continue
		}
		p.TopicInterests[topic] = v
	}

	for _, area := range sig.ExpertiseHints {
		p.ExpertiseAreas = appendArea(p.ExpertiseAreas, area)
	}

	if sig.ConversationClosed {
		p.TotalConversations++
	}
}

// stepToward moves the stored style one rung along the
// casual / neutral / formal ladder. A single conversation can pull a
// neutral profile to either pole, but flipping formal to casual (or back)
// takes two consecutive opposing conversations.
func stepToward(current, target string) string {
	rung := func(style string) int {
		switch style {
		case "casual":
			return 0
		case "formal":
			return 2
		default:
			return 1
		}
	}
	cur, tgt := rung(current), rung(target)
	switch {
	case tgt > cur:
		cur++
	case tgt < cur:
		cur--
	}
	return [3]string{"casual", "neutral", "formal"}[cur]
}

func appendArea(areas []string, area string) []string {
	for _, a := range areas {
		if a == area {
			return areas
		}
	}
	areas = append(areas, area)
	if len(areas) > maxExpertiseAreas {
		areas = areas[len(areas)-maxExpertiseAreas:]
	}
	return areas
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// TopInterests returns up to limit topics sorted by interest, strongest
// first. Used by user summaries.
func TopInterests(p *core.UserProfile, limit int) []string {
	type kv struct {
		topic string
		v     float64
	}
	pairs := make([]kv, 0, len(p.TopicInterests))
	for k, v := range p.TopicInterests {
		pairs = append(pairs, kv{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].v != pairs[j].v {
			return pairs[i].v > pairs[j].v
		}
		return pairs[i].topic < pairs[j].topic
	})
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.topic
	}
	return out
}
