package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const schemaVersion = 2

// optionalColumns are added to tables created by older schema versions.
var optionalColumns = []struct {
	name string
	ddl  string
}{
	{"recognized_text", "recognized_text TEXT"},
	{"text_density", "text_density REAL NOT NULL DEFAULT 0"},
	{"quality_score", "quality_score REAL NOT NULL DEFAULT 0.5"},
	{"duplicate_group", "duplicate_group TEXT"},
	{"dhash", "dhash TEXT"},
	{"embedding", "embedding BLOB"},
}

func (s *Store) ensureSchema() error {
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS assets (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			path       TEXT NOT NULL UNIQUE,
			mtime      REAL NOT NULL,
			size_bytes INTEGER NOT NULL,
			width      INTEGER,
			height     INTEGER,
			indexed_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create assets table: %w", err)
	}

	existing, err := s.columns(ctx, "assets")
	if err != nil {
		return err
	}
	for _, col := range optionalColumns {
		if existing[col.name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE assets ADD COLUMN `+col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_assets_group ON assets(duplicate_group)`); err != nil {
		return fmt.Errorf("create group index: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE VIRTUAL TABLE IF NOT EXISTS assets_fts USING fts5(
			path UNINDEXED,
			text,
			tokenize = 'unicode61'
		)
	`)
	if err != nil {
		s.ftsAvailable = false
		s.logger(ctx).Warn("FTS5 unavailable, lexical search falls back to LIKE", zap.Error(err))
	} else {
		s.ftsAvailable = true
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (s *Store) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(`+table+`)`)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = true
	}
	return out, rows.Err()
}
