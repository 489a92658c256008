// Package sqlite implements the store interfaces on SQLite, giving local
// deployments a durable conversation and profile record in a single file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/recallhq/recall-go-sdk/core"
	"github.com/recallhq/recall-go-sdk/store"
)

// Store implements store.Store on SQLite.
type Store struct {
	db *sql.DB
}

// New opens or creates a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id             TEXT PRIMARY KEY,
		detail_level        REAL NOT NULL DEFAULT 0.5,
		communication_style TEXT NOT NULL DEFAULT 'neutral',
		expertise_areas     TEXT,
		topic_interests     TEXT,
		total_conversations INTEGER NOT NULL DEFAULT 0,
		updated_at          TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendMessage persists a message at the tail of its conversation.
func (s *Store) AppendMessage(ctx context.Context, msg core.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.UserID, msg.Role, msg.Content,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit trailing messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, role, content, created_at
		FROM (
			SELECT * FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		var m core.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// LastMessageID returns the id of the newest message, or "".
func (s *Store) LastMessageID(ctx context.Context, conversationID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1`,
		conversationID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last message: %w", err)
	}
	return id, nil
}

// GetProfile loads a profile, or store.ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	var p core.UserProfile
	var areasJSON, interestsJSON sql.NullString
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, detail_level, communication_style, expertise_areas,
		       topic_interests, total_conversations, updated_at
		FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.DetailLevel, &p.CommunicationStyle, &areasJSON,
			&interestsJSON, &p.TotalConversations, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}

	if areasJSON.Valid && areasJSON.String != "" {
		if err := json.Unmarshal([]byte(areasJSON.String), &p.ExpertiseAreas); err != nil {
			return nil, fmt.Errorf("decode expertise_areas: %w", err)
		}
	}
	p.TopicInterests = map[string]float64{}
	if interestsJSON.Valid && interestsJSON.String != "" {
		if err := json.Unmarshal([]byte(interestsJSON.String), &p.TopicInterests); err != nil {
			return nil, fmt.Errorf("decode topic_interests: %w", err)
		}
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &p, nil
}

// PutProfile persists a profile, replacing any prior version.
func (s *Store) PutProfile(ctx context.Context, profile *core.UserProfile) error {
	areas, err := json.Marshal(profile.ExpertiseAreas)
	if err != nil {
		return fmt.Errorf("encode expertise_areas: %w", err)
	}
	interests, err := json.Marshal(profile.TopicInterests)
	if err != nil {
		return fmt.Errorf("encode topic_interests: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, detail_level, communication_style,
			expertise_areas, topic_interests, total_conversations, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			detail_level = excluded.detail_level,
			communication_style = excluded.communication_style,
			expertise_areas = excluded.expertise_areas,
			topic_interests = excluded.topic_interests,
			total_conversations = excluded.total_conversations,
			updated_at = excluded.updated_at`,
		profile.UserID, profile.DetailLevel, profile.CommunicationStyle,
		string(areas), string(interests), profile.TotalConversations,
		profile.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
