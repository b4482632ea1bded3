// Package sqlite stores the settings document in a SQLite database.
//
// Each save is one row in the documents table; the current document is the
// newest row. Older rows are pruned down to a short history.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	documentName   = "settings"
	defaultHistory = 10
)

type Store struct {
	db      *sql.DB
	history int
	now     func() time.Time
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, history: defaultHistory, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		body       BLOB NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_name ON documents(name, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns the newest document, or nil when none was saved.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var body []byte
	err := retryOnContention(func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT body FROM documents WHERE name = ? ORDER BY id DESC LIMIT 1`,
			documentName,
		).Scan(&body)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return body, nil
}

// Save inserts a new revision and prunes old ones in one transaction.
func (s *Store) Save(ctx context.Context, data []byte) error {
	now := s.now().UTC().Format(time.RFC3339Nano)
	return retryOnContention(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (name, body, created_at) VALUES (?, ?, ?)`,
			documentName, data, now,
		); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE name = ? AND id NOT IN (
				SELECT id FROM documents WHERE name = ? ORDER BY id DESC LIMIT ?
			)`,
			documentName, documentName, s.history,
		); err != nil {
			return fmt.Errorf("prune documents: %w", err)
		}
		return tx.Commit()
	})
}

// Revisions returns how many revisions are kept.
func (s *Store) Revisions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE name = ?`, documentName,
	).Scan(&n)
	return n, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
