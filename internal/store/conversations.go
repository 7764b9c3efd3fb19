package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chat2edit/internal/logging"
	"chat2edit/internal/types"
)

// Conversation is the header row of a conversation.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func now() int64 { return time.Now().UnixMilli() }

// CreateConversation starts an empty conversation served by provider.
func (s *Store) CreateConversation(ctx context.Context, provider string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	c := &Conversation{
		ID:        uuid.NewString(),
		Provider:  provider,
		CreatedAt: time.UnixMilli(ts),
		UpdatedAt: time.UnixMilli(ts),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, title, provider, created_at, updated_at) VALUES (?, '', ?, ?, ?)",
		c.ID, c.Provider, ts, ts)
	if err != nil {
		logging.StoreError("Failed to create conversation: %v", err)
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	logging.StoreDebug("Created conversation %s (provider=%s)", c.ID, provider)
	return c, nil
}

// GetConversation loads a conversation header.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, provider, created_at, updated_at FROM conversations WHERE id = ?", id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns conversations, most recently updated first.
// limit <= 0 returns all of them.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, provider, created_at, updated_at FROM conversations ORDER BY updated_at DESC, created_at DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SaveConversation stores the title and bumps the update time.
func (s *Store) SaveConversation(ctx context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?", c.Title, ts, c.ID)
	if err != nil {
		logging.StoreError("Failed to save conversation %s: %v", c.ID, err)
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", c.ID, ErrNotFound)
	}
	c.UpdatedAt = time.UnixMilli(ts)
	return nil
}

// DeleteConversation removes a conversation with its cycles and context.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	logging.StoreDebug("Deleted conversation %s", id)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(r scanner) (*Conversation, error) {
	var (
		c                Conversation
		created, updated int64
	)
	if err := r.Scan(&c.ID, &c.Title, &c.Provider, &created, &updated); err != nil {
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return &c, nil
}

// AppendCycle adds a finished chat cycle to the conversation.
func (s *Store) AppendCycle(ctx context.Context, conversationID string, cycle *types.ChatCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cycle.ID == "" {
		cycle.ID = uuid.NewString()
	}
	payload, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("failed to encode cycle: %w", err)
	}
	ts := now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_cycles (id, conversation_id, payload, has_response, llm_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cycle.ID, conversationID, string(payload), boolInt(cycle.Responded()), cycle.LLMCalls(), ts)
	if err != nil {
		logging.StoreError("Failed to append cycle %s: %v", cycle.ID, err)
		return fmt.Errorf("failed to append cycle: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?", ts, conversationID); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	logging.StoreDebug("Appended cycle %s to %s (responded=%v)", cycle.ID, conversationID, cycle.Responded())
	return nil
}

// Cycles returns the last limit cycles of a conversation in chronological
// order. limit <= 0 returns all. respondedOnly skips cycles that ended
// without a response.
func (s *Store) Cycles(ctx context.Context, conversationID string, limit int, respondedOnly bool) ([]*types.ChatCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	query := "SELECT payload FROM chat_cycles WHERE conversation_id = ?"
	if respondedOnly {
		query += " AND has_response = 1"
	}
	query += " ORDER BY seq DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycles: %w", err)
	}
	defer rows.Close()

	var out []*types.ChatCycle
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c types.ChatCycle
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("failed to decode cycle: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
