// Package store defines the durable conversation and profile storage
// contracts, with an in-memory implementation for tests and local use.
// Durable deployments use the sqlite subpackage.
package store

import (
	"context"
	"errors"

	"github.com/recallhq/recall-go-sdk/core"
)

// Common errors returned by store operations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Conversations is the durable record of messages.
type Conversations interface {
	// AppendMessage persists a message at the tail of its conversation.
	AppendMessage(ctx context.Context, msg core.Message) error

	// RecentMessages returns up to limit trailing messages in arrival
	// order (oldest first).
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error)

	// LastMessageID returns the id of the newest message, or "" when the
	// conversation has no turns yet.
	LastMessageID(ctx context.Context, conversationID string) (string, error)
}

// Profiles is the durable record of user preference profiles.
type Profiles interface {
	// GetProfile loads a profile. Returns ErrNotFound for unknown users.
	GetProfile(ctx context.Context, userID string) (*core.UserProfile, error)

	// PutProfile persists a profile, replacing any prior version.
	PutProfile(ctx context.Context, profile *core.UserProfile) error
}

// Store combines both record kinds behind one handle so callers can pass
// a single injected dependency.
type Store interface {
	Conversations
	Profiles
}
