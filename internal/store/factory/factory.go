package factory

import (
	"errors"
	"strings"

	"github.com/loykin/manifest/internal/store"
	pg "github.com/loykin/manifest/internal/store/postgres"
	sq "github.com/loykin/manifest/internal/store/sqlite"
	"github.com/loykin/manifest/internal/store/yamlfile"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - memory:   "memory://" or "memory"
//   - sqlite:   "sqlite:///<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - yaml:     "yaml:///<path>"
func NewFromDSN(dsn string) (store.KV, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if ld == "memory" || ld == "memory://" {
		return store.NewMemory(), nil
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "yaml://") {
		return yamlfile.Open(d[len("yaml://"):])
	}
	if strings.HasPrefix(ld, "sqlite://") {
		path := d[len("sqlite://"):]
		return sq.New(path)
	}
	// default to sqlite path
	return sq.New(d)
}
