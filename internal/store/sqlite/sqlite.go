package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/manifest/internal/store"
)

// DB implements store.KV on SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection: ":memory:" databases are per-connection
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *DB { return &DB{db: db} }

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS timer_kv(
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite ensure schema: %w", err)
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM timer_kv WHERE key=?;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite get %q: %w", key, err)
	}
	return v, nil
}

func (s *DB) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timer_kv(key, value, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at;`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite set %q: %w", key, err)
	}
	return nil
}

func (s *DB) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timer_kv WHERE key=?;`, key); err != nil {
		return fmt.Errorf("sqlite remove %q: %w", key, err)
	}
	return nil
}

func (s *DB) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM timer_kv
		WHERE key LIKE ? ESCAPE '\'
		ORDER BY key;`, store.LikePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("sqlite list keys: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanKeys(rows)
}

func scanKeys(rows *sql.Rows) ([]string, error) {
	out := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
