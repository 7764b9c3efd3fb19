package store

import (
	"context"
	"database/sql"
	"fmt"

	"chat2edit/internal/logging"
)

// Migration adds a column that older databases lack.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations are applied in order; each is skipped when its column
// already exists.
var pendingMigrations = []Migration{
	{Table: "conversations", Column: "provider", Def: "TEXT NOT NULL DEFAULT ''"},
	{Table: "chat_cycles", Column: "llm_calls", Def: "INTEGER NOT NULL DEFAULT 0"},
	{Table: "files", Column: "conversation_id", Def: "TEXT NOT NULL DEFAULT ''"},
}

// RunMigrations brings an existing database up to the current schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	applied := 0
	for _, m := range pendingMigrations {
		ok, err := tableExists(ctx, db, m.Table)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		exists, err := columnExists(ctx, db, m.Table, m.Column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		logging.StoreDebug("Migration applied: %s.%s", m.Table, m.Column)
		applied++
	}
	if applied > 0 {
		logging.Store("Applied %d schema migrations", applied)
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func tableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
