package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/manifest/internal/store"
)

// DB implements store.KV on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

// New prepares a handle for dsn. No connection is made until first use.
func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS timer_kv(
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("postgres ensure schema: %w", err)
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM timer_kv WHERE key=$1;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres get %q: %w", key, err)
	}
	return v, nil
}

func (p *DB) Set(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO timer_kv(key, value, updated_at)
		VALUES($1, $2, $3)
		ON CONFLICT(key) DO UPDATE SET
			value=EXCLUDED.value,
			updated_at=EXCLUDED.updated_at;`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres set %q: %w", key, err)
	}
	return nil
}

func (p *DB) Remove(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM timer_kv WHERE key=$1;`, key); err != nil {
		return fmt.Errorf("postgres remove %q: %w", key, err)
	}
	return nil
}

func (p *DB) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT key FROM timer_kv
		WHERE key LIKE $1 ESCAPE '\'
		ORDER BY key;`, store.LikePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("postgres list keys: %w", err)
	}
	defer rows.Close()
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
