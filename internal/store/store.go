package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("key not found")

// KV is the key-value persistence surface used by timers to keep their
// records across process restarts. Keys are plain strings namespaced by the
// caller (e.g. "manifest_timer_countdown_<id>"); values are opaque strings.
//
// Implementations must be safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// ListKeys returns every key starting with prefix, in ascending order.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// SchemaEnsurer is implemented by SQL-backed stores that need their table
// created before first use.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Prepare creates the backing schema when kv needs one.
func Prepare(ctx context.Context, kv KV) error {
	if se, ok := kv.(SchemaEnsurer); ok {
		return se.EnsureSchema(ctx)
	}
	return nil
}

// LikePrefix turns prefix into a LIKE pattern matching keys that start with
// it. '\' is the escape character; '_' and '%' in the prefix match literally.
func LikePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
