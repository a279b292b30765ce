package timer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/manifest/internal/clock"
	"github.com/loykin/manifest/internal/history"
	"github.com/loykin/manifest/internal/schedule"
	"github.com/loykin/manifest/internal/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// rig bundles the fakes an engine runs against.
type rig struct {
	clock   *clock.Mock
	store   *store.Memory
	frames  *schedule.Manual
	persist *schedule.Manual
	logs    *bytes.Buffer
}

func newRig() *rig {
	return &rig{
		clock:   clock.NewMock(t0),
		store:   store.NewMemory(),
		frames:  schedule.NewManual(),
		persist: schedule.NewManual(),
		logs:    &bytes.Buffer{},
	}
}

func (r *rig) opts(mode Mode, initial float64) Options {
	return Options{
		InstanceID: "",
		Mode:       mode,
		Initial:    initial,
		Store:      r.store,
		Clock:      r.clock,
		Frames:     r.frames,
		Persist:    r.persist,
		Logger:     slog.New(slog.NewTextHandler(r.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

func (r *rig) newEngine(t *testing.T, o Options) *Engine {
	t.Helper()
	e, err := New(o)
	require.NoError(t, err)
	return e
}

// seed writes a record directly under Key(DefaultNamespace, rec.Mode, id).
func (r *rig) seed(t *testing.T, id string, rec Record) string {
	t.Helper()
	raw, err := rec.Encode()
	require.NoError(t, err)
	key := Key(DefaultNamespace, rec.Mode, id)
	require.NoError(t, r.store.Set(context.Background(), key, raw))
	return key
}

func (r *rig) record(t *testing.T, key string, mode Mode) (Record, bool) {
	t.Helper()
	raw, err := r.store.Get(context.Background(), key)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, false
	}
	require.NoError(t, err)
	rec, err := DecodeRecord(raw, mode)
	require.NoError(t, err)
	return rec, true
}

func (r *rig) keys(t *testing.T, mode Mode) []string {
	t.Helper()
	keys, err := r.store.ListKeys(context.Background(), KeyPrefix(DefaultNamespace, mode))
	require.NoError(t, err)
	return keys
}

// failingStore rejects every call.
type failingStore struct{}

var errStoreDown = errors.New("quota exceeded")

func (failingStore) Get(context.Context, string) (string, error) { return "", errStoreDown }
func (failingStore) Set(context.Context, string, string) error { return errStoreDown }
func (failingStore) Remove(context.Context, string) error { return errStoreDown }
func (failingStore) ListKeys(context.Context, string) ([]string, error) { return nil, errStoreDown }
func (failingStore) Close() error { return nil }

// recordingSink captures history events.
type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (s *recordingSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) types() []history.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// leakyScheduler ignores Cancel, so stale callbacks still run. It stands in
// for a real timer that fired just before being stopped.
type leakyScheduler struct {
	mu  sync.Mutex
	fns []func()
}

type noopHandle struct{}

func (noopHandle) Cancel() {}

func (s *leakyScheduler) ScheduleNext(fn func()) schedule.Handle {
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
	return noopHandle{}
}

func (s *leakyScheduler) runAll() int {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func drain(ch <-chan Event) []EventType {
	var out []EventType
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}
