package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chat2edit/internal/logging"
)

// LoadContext returns the encoded Context of a conversation, or nil when
// none has been saved yet.
func (s *Store) LoadContext(ctx context.Context, conversationID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM contexts WHERE conversation_id = ?", conversationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}
	return data, nil
}

// SaveContext replaces the encoded Context of a conversation.
func (s *Store) SaveContext(ctx context.Context, conversationID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contexts (conversation_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		conversationID, data, now())
	if err != nil {
		logging.StoreError("Failed to save context for %s: %v", conversationID, err)
		return fmt.Errorf("failed to save context: %w", err)
	}
	logging.StoreDebug("Saved context for %s (%d bytes)", conversationID, len(data))
	return nil
}

// File is a stored attachment.
type File struct {
	ID             string
	ConversationID string
	Name           string
	ContentType    string
	Data           []byte
	CreatedAt      time.Time
}

// SaveFile stores f, assigning an id when it has none.
func (s *Store) SaveFile(ctx context.Context, f *File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Data == nil {
		f.Data = []byte{}
	}
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO files (id, conversation_id, name, content_type, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.ConversationID, f.Name, f.ContentType, f.Data, ts)
	if err != nil {
		logging.StoreError("Failed to save file %s: %v", f.Name, err)
		return fmt.Errorf("failed to save file: %w", err)
	}
	f.CreatedAt = time.UnixMilli(ts)
	logging.StoreDebug("Saved file %s (%s, %d bytes)", f.ID, f.Name, len(f.Data))
	return nil
}

// GetFile loads a stored attachment.
func (s *Store) GetFile(ctx context.Context, id string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		f  File
		ts int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, conversation_id, name, content_type, data, created_at FROM files WHERE id = ?", id).
		Scan(&f.ID, &f.ConversationID, &f.Name, &f.ContentType, &f.Data, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	f.CreatedAt = time.UnixMilli(ts)
	return &f, nil
}
