package store

import (
	"context"
	"fmt"
)

// migration is one ordered, idempotent schema step, following the
// teacher's internal/db/sqlite/migrations.go shape.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "dedupe_entries",
		SQL: `
CREATE TABLE IF NOT EXISTS dedupe_entries (
	source     TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (source, source_id)
);
CREATE INDEX IF NOT EXISTS idx_dedupe_entries_source ON dedupe_entries(source);
`,
	},
	{
		Version: 2,
		Name:    "notes_bilibili",
		SQL: `
CREATE TABLE IF NOT EXISTS notes_bilibili (
	note_id           TEXT PRIMARY KEY,
	source_id         TEXT NOT NULL,
	source_url        TEXT NOT NULL,
	title             TEXT NOT NULL,
	summary_markdown  TEXT NOT NULL,
	captured_metadata TEXT NOT NULL DEFAULT '{}',
	saved_at          TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_notes_bilibili_source_id ON notes_bilibili(source_id);
`,
	},
	{
		Version: 3,
		Name:    "notes_xiaohongshu",
		SQL: `
CREATE TABLE IF NOT EXISTS notes_xiaohongshu (
	note_id           TEXT PRIMARY KEY,
	source_id         TEXT NOT NULL,
	source_url        TEXT NOT NULL,
	title             TEXT NOT NULL,
	summary_markdown  TEXT NOT NULL,
	captured_metadata TEXT NOT NULL DEFAULT '{}',
	saved_at          TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_notes_xiaohongshu_source_id ON notes_xiaohongshu(source_id);
`,
	},
	{
		Version: 4,
		Name:    "merge_records",
		SQL: `
CREATE TABLE IF NOT EXISTS merge_records (
	merge_id        TEXT PRIMARY KEY,
	source          TEXT NOT NULL,
	source_note_ids TEXT NOT NULL,
	merged_note_id  TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	rollback_of     TEXT,
	finalized_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_merge_records_source ON merge_records(source);
`,
	},
	{
		Version: 5,
		Name:    "field_decisions",
		SQL: `
CREATE TABLE IF NOT EXISTS field_decisions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	merge_id   TEXT NOT NULL,
	field      TEXT NOT NULL,
	winner     TEXT NOT NULL,
	rule       TEXT NOT NULL,
	alt_value  TEXT,
	FOREIGN KEY (merge_id) REFERENCES merge_records(merge_id)
);
CREATE INDEX IF NOT EXISTS idx_field_decisions_merge_id ON field_decisions(merge_id);
`,
	},
	{
		Version: 6,
		Name:    "schema_migrations",
		SQL: `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TEXT NOT NULL
);
`,
	},
}

func (s *Store) migrate(ctx context.Context) error {
	// schema_migrations itself must exist before we can query it, so
	// apply it unconditionally and idempotently first.
	if _, err := s.db.ExecContext(ctx, migrationByName("schema_migrations").SQL); err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, datetime('now'))`,
			m.Version, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func migrationByName(name string) migration {
	for _, m := range migrations {
		if m.Name == name {
			return m
		}
	}
	return migration{}
}
