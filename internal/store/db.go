// Package store owns Midas's single embedded SQLite database file: the
// Dedupe Store (C2), the Note Store (C3), and the merge/field-decision
// tables, plus timestamped backup snapshots taken on every write.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB with a prepared-statement cache, mirroring the
// teacher's internal/db/sqlite/store.go pattern: statements are prepared
// once per distinct query text and reused across calls instead of being
// re-parsed by SQLite on every invocation.
type Store struct {
	db *sql.DB

	mu        sync.Mutex
	stmtCache map[string]*sql.Stmt

	dbPath    string
	backupDir string
}

// Config is the set of knobs NewStore needs; callers derive these from
// the resolved config.Handle rather than Store reaching into config
// itself, keeping the store free of a config import cycle.
type Config struct {
	DBPath    string
	BackupDir string
	MaxConns  int
}

// NewStore opens (creating if absent) the SQLite database at cfg.DBPath
// in WAL mode and runs migrations. Failure to open is fatal at startup
// per spec §4.2.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db %s: %w", cfg.DBPath, err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 8
	}
	db.SetMaxOpenConns(maxConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db %s: %w", cfg.DBPath, err)
	}

	s := &Store{
		db:        db,
		stmtCache: make(map[string]*sql.Stmt),
		dbPath:    cfg.DBPath,
		backupDir: cfg.BackupDir,
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite db %s: %w", cfg.DBPath, err)
	}
	return s, nil
}

// DB exposes the underlying handle for components that need it directly
// (e.g. starting a transaction that spans multiple store methods).
func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases every cached prepared statement and the underlying DB handle.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, stmt := range s.stmtCache {
		stmt.Close()
	}
	s.stmtCache = nil
	s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) getStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	if stmt, ok := s.stmtCache[query]; ok {
		s.mu.Unlock()
		return stmt, nil
	}
	s.mu.Unlock()

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.stmtCache[query]; ok {
		stmt.Close()
		return existing, nil
	}
	s.stmtCache[query] = stmt
	return stmt, nil
}

func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := s.getStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := s.getStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

func (s *Store) queryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := s.getStmt(ctx, query)
	if err != nil {
		return s.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}
