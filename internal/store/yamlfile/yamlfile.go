// Package yamlfile keeps timer records in a single YAML document on disk,
// the desktop counterpart of a browser's local storage.
package yamlfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/loykin/manifest/internal/store"
)

type document struct {
	Entries map[string]string `yaml:"entries"`
}

// File implements store.KV. Every mutation rewrites the whole document
// through a temp file and rename.
type File struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// Open loads path, creating an empty store when the file does not exist.
func Open(path string) (*File, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty yaml store path")
	}
	f := &File{path: filepath.Clean(p), data: make(map[string]string)}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("read yaml store: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml store: %w", err)
	}
	for k, v := range doc.Entries {
		f.data[k] = v
	}
	return f, nil
}

// Path returns the backing file.
func (f *File) Path() string { return f.path }

func (f *File) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.data[key]
	f.data[key] = value
	if err := f.flushLocked(); err != nil {
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.data[key]
	if !had {
		return nil
	}
	delete(f.data, key)
	if err := f.flushLocked(); err != nil {
		f.data[key] = prev
		return err
	}
	return nil
}

func (f *File) ListKeys(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	sort.Strings(keys)
	return keys, nil
}

func (f *File) Close() error { return nil }

func (f *File) flushLocked() error {
	serialized, err := yaml.Marshal(document{Entries: f.data})
	if err != nil {
		return fmt.Errorf("marshal yaml store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create yaml store directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, serialized, 0o600); err != nil {
		return fmt.Errorf("write yaml store: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace yaml store: %w", err)
	}
	return nil
}
