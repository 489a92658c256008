// Package core defines the shared domain types used across the SDK.
package core

import "time"

// Message is a single conversation turn.
type Message struct {
	// ID uniquely identifies the message within its conversation.
	ID string `json:"id"`

	// ConversationID identifies the conversation this message belongs to.
	ConversationID string `json:"conversation_id"`

	// UserID identifies the author's account (for both roles).
	UserID string `json:"user_id"`

	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// CreatedAt is the arrival timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// Entity is a salient named concept tracked within a conversation.
// Entities are unique by normalized text+type and are mutated on every
// turn that mentions them.
type Entity struct {
	Text       string    `json:"text"`
	Type       string    `json:"type"`
	Importance float64   `json:"importance"` // [0,1], mentions tempered by recency
	Mentions   int       `json:"mentions"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Key returns the identity key for an entity: normalized text plus type.
func (e Entity) Key() string {
	return e.Type + ":" + e.Text
}

// ConversationContext is the per-conversation tracking state.
// One exists per conversation; it is created on the first turn and
// updated on every subsequent one.
type ConversationContext struct {
	ConversationID    string            `json:"conversation_id"`
	UserID            string            `json:"user_id"`
	Topics            []string          `json:"topics"` // insertion-ordered, deduplicated
	Entities          map[string]Entity `json:"entities"`
	ConversationStyle string            `json:"conversation_style"` // casual, neutral, formal
	LastUpdatedAt     time.Time         `json:"last_updated_at"`
}

// UserProfile holds long-lived per-user communication preferences.
// Profiles are merged, never replaced: a single conversation cannot
// erase long-term history.
type UserProfile struct {
	UserID string `json:"user_id"`

	// DetailLevel in [0,1]: 0 = terse answers preferred, 1 = exhaustive.
	DetailLevel float64 `json:"detail_level"`

	// CommunicationStyle is the dominant observed style (casual, neutral, formal).
	CommunicationStyle string `json:"communication_style"`

	// ExpertiseAreas are domains the user has demonstrated fluency in.
	ExpertiseAreas []string `json:"expertise_areas"`

	// TopicInterests maps topic to interest strength in [0,1].
	// Values decay toward zero absent reinforcement.
	TopicInterests map[string]float64 `json:"topic_interests"`

	TotalConversations int       `json:"total_conversations"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without racing the
// profile manager's cached copy.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.ExpertiseAreas = append([]string(nil), p.ExpertiseAreas...)
	cp.TopicInterests = make(map[string]float64, len(p.TopicInterests))
	for k, v := range p.TopicInterests {
		cp.TopicInterests[k] = v
	}
	return &cp
}

// Signals are the per-turn observations merged into a UserProfile.
type Signals struct {
	// DetailPreference in [0,1]; negative means "no signal this turn".
	DetailPreference float64 `json:"detail_preference"`

	// Style is the detected style for this span, empty when ambiguous.
	Style string `json:"style"`

	// Topics observed this turn (reinforce topic interests).
	Topics []string `json:"topics"`

	// ExpertiseHints are domains the user showed fluency in this turn.
	ExpertiseHints []string `json:"expertise_hints"`

	// ConversationClosed marks an end-of-conversation checkpoint.
	ConversationClosed bool `json:"conversation_closed"`
}
