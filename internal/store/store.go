package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/directorate/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL lets the web API read while a run appends events; the busy
	// timeout makes concurrent runs wait instead of failing with SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Checkpoint flushes the WAL into the main database file before export.
func (s *Store) Checkpoint() error {
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			task         TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			source       TEXT NOT NULL DEFAULT 'cli',
			error        TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id         TEXT PRIMARY KEY,
			run_id     TEXT NOT NULL REFERENCES runs(id),
			seq        INTEGER NOT NULL,
			type       TEXT NOT NULL,
			agent      TEXT,
			body       TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE(run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS directors (
			name        TEXT PRIMARY KEY,
			description TEXT,
			model       TEXT,
			temperature REAL,
			max_tokens  INTEGER,
			after       TEXT NOT NULL DEFAULT '[]',
			position    INTEGER NOT NULL DEFAULT 0,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT,
			value       BLOB NOT NULL,
			nonce       BLOB NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_briefs (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			schedule    TEXT NOT NULL,
			task        TEXT NOT NULL,
			status      TEXT DEFAULT 'active',
			next_run_at DATETIME,
			last_run_at DATETIME,
			last_status TEXT,
			last_error  TEXT,
			last_run_id TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_briefs_next_run ON scheduled_briefs(status, next_run_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	b := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
