// Package store persists conversations, their chat cycles, the encoded
// variable Context and attachment files in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3"
	_ "modernc.org/sqlite"          // registers "sqlite"

	"chat2edit/internal/logging"
)

var (
	// ErrNotFound is returned when a conversation or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownDriver is returned for a driver other than sqlite3 or sqlite.
	ErrUnknownDriver = errors.New("unknown store driver")
)

// Drivers lists the accepted database/sql driver names. sqlite3 is the cgo
// driver, sqlite the pure Go one.
var Drivers = []string{"sqlite3", "sqlite"}

// Store is the SQLite-backed conversation store. It is safe for concurrent
// use; writes are serialized.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	driver string
	path   string
}

// Open opens (creating if needed) the database at path with driver and
// brings the schema up to date. path may be ":memory:".
func Open(ctx context.Context, driver, path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if !knownDriver(driver) {
		return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownDriver, driver, Drivers)
	}
	logging.Store("Opening store: driver=%s path=%s", driver, path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			logging.StoreError("Failed to create store directory: %v", err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		logging.StoreError("Failed to open database: %v", err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:"
	// databases are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			logging.StoreError("Failed to apply %s: %v", p, err)
			return nil, fmt.Errorf("failed to configure database: %w", err)
		}
	}

	s := &Store{db: db, driver: driver, path: path}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		logging.StoreError("Failed to initialize schema: %v", err)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.Store("Store ready at %s", path)
	return s, nil
}

func knownDriver(driver string) bool {
	for _, d := range Drivers {
		if d == driver {
			return true
		}
	}
	return false
}

// Driver returns the database/sql driver in use.
func (s *Store) Driver() string { return s.driver }

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.StoreDebug("Closing store %s", s.path)
	if err := s.db.Close(); err != nil {
		logging.StoreWarn("Failed to close store %s: %v", s.path, err)
		return err
	}
	return nil
}

const baseSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_cycles (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	payload TEXT NOT NULL,
	has_response INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_cycles_conversation ON chat_cycles(conversation_id, seq);

CREATE TABLE IF NOT EXISTS contexts (
	conversation_id TEXT PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
	data BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	data BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
`

func (s *Store) initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return err
	}
	return RunMigrations(ctx, s.db)
}
