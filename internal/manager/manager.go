// Package manager owns the live timer engines of a process. It is the host
// glue between transports (HTTP, CLI) and the timer package: it creates
// engines against a shared store, fans out visibility and shutdown signals
// and keeps anonymous engines from adopting each other's records.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/manifest/internal/clock"
	"github.com/loykin/manifest/internal/history"
	"github.com/loykin/manifest/internal/schedule"
	"github.com/loykin/manifest/internal/store"
	"github.com/loykin/manifest/internal/timer"
)

var (
	ErrNotFound = errors.New("timer not found")
	ErrExists   = errors.New("timer already exists")
)

// Spec describes a timer to create. An empty ID lets the engine adopt the
// most recent unclaimed running record of the mode, or start fresh under a
// generated id.
type Spec struct {
	ID        string     `json:"id,omitempty"`
	Mode      timer.Mode `json:"mode"`
	Initial   float64    `json:"initial"`
	AutoStart bool       `json:"auto_start"`
}

// Config carries what every engine of the manager shares.
type Config struct {
	Namespace       string
	Store           store.KV
	Clock           clock.Clock
	FrameInterval   time.Duration
	PersistInterval time.Duration
	StoreTimeout    time.Duration
	Logger          *slog.Logger
	Sinks           []history.Sink

	// Frames and Persist override the interval-based schedulers. Tests use
	// them to step loops by hand.
	Frames  schedule.Scheduler
	Persist schedule.Scheduler
}

// Status is a timer snapshot tagged with its manager id.
type Status struct {
	ID string `json:"id"`
	timer.State
}

// Manager creates and tracks timer engines by id.
type Manager struct {
	cfg Config
	log *slog.Logger

	createMu sync.Mutex // serializes recovery scans
	mu       sync.RWMutex
	timers   map[string]*timer.Engine
	keys     map[string]string // persistence key -> id
}

func New(cfg Config) *Manager {
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = timer.DefaultNamespace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Frames == nil {
		cfg.Frames = schedule.NewTimer(valOr(cfg.FrameInterval, schedule.DefaultFrameInterval))
	}
	if cfg.Persist == nil {
		cfg.Persist = schedule.NewTimer(valOr(cfg.PersistInterval, schedule.DefaultPersistInterval))
	}
	return &Manager{
		cfg:    cfg,
		log:    cfg.Logger.With("component", "manager"),
		timers: make(map[string]*timer.Engine),
		keys:   make(map[string]string),
	}
}

// Create builds an engine for spec and registers it. A pinned id that is
// already live yields ErrExists.
func (m *Manager) Create(spec Spec) (Status, error) {
	if spec.ID != "" && !isSafeID(spec.ID) {
		return Status{}, fmt.Errorf("invalid timer id %q: allowed [A-Za-z0-9._-]", spec.ID)
	}
	m.createMu.Lock()
	defer m.createMu.Unlock()

	if spec.ID != "" {
		m.mu.RLock()
		_, exists := m.timers[spec.ID]
		m.mu.RUnlock()
		if exists {
			return Status{}, fmt.Errorf("%w: %s", ErrExists, spec.ID)
		}
	}

	e, err := timer.New(timer.Options{
		Namespace:    m.cfg.Namespace,
		InstanceID:   spec.ID,
		Mode:         spec.Mode,
		Initial:      spec.Initial,
		AutoStart:    spec.AutoStart,
		Store:        m.cfg.Store,
		Clock:        m.cfg.Clock,
		Frames:       m.cfg.Frames,
		Persist:      m.cfg.Persist,
		Logger:       m.cfg.Logger,
		Sinks:        m.cfg.Sinks,
		Claimed:      m.claimed,
		StoreTimeout: m.cfg.StoreTimeout,
	})
	if err != nil {
		return Status{}, err
	}
	id := e.InstanceID()

	m.mu.Lock()
	if _, exists := m.timers[id]; exists {
		m.mu.Unlock()
		_ = e.Close()
		return Status{}, fmt.Errorf("%w: %s", ErrExists, id)
	}
	m.timers[id] = e
	m.keys[e.Key()] = id
	m.mu.Unlock()

	m.log.Debug("timer created", "id", id, "mode", spec.Mode)
	return Status{ID: id, State: e.State()}, nil
}

// claimed reports whether adopting key would clash with a live engine: the
// key itself is held, or its instance id is in use by a timer of any mode.
func (m *Manager) claimed(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.keys[key]; ok {
		return true
	}
	for _, mode := range []timer.Mode{timer.Countdown, timer.Stopwatch} {
		if id, ok := strings.CutPrefix(key, timer.KeyPrefix(m.cfg.Namespace, mode)); ok {
			_, live := m.timers[id]
			return live
		}
	}
	return false
}

// Get returns the engine registered under id.
func (m *Manager) Get(id string) (*timer.Engine, error) {
	m.mu.RLock()
	e, ok := m.timers[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Status returns a fresh snapshot of one timer.
func (m *Manager) Status(id string) (Status, error) {
	e, err := m.Get(id)
	if err != nil {
		return Status{}, err
	}
	return Status{ID: id, State: e.State()}, nil
}

// List returns snapshots of every timer ordered by id.
func (m *Manager) List() []Status {
	return m.ListMatch("*")
}

// ListMatch returns snapshots of timers whose id matches pattern.
// Supported wildcard: '*' matches any substring (including empty).
func (m *Manager) ListMatch(pattern string) []Status {
	m.mu.RLock()
	ids := make([]string, 0, len(m.timers))
	for id := range m.timers {
		if wildcardMatch(id, pattern) {
			ids = append(ids, id)
		}
	}
	engines := make([]*timer.Engine, len(ids))
	sort.Strings(ids)
	for i, id := range ids {
		engines[i] = m.timers[id]
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(ids))
	for i, e := range engines {
		out = append(out, Status{ID: ids[i], State: e.State()})
	}
	return out
}

// Do runs op against the timer and returns its snapshot afterwards.
func (m *Manager) Do(id string, op func(*timer.Engine)) (Status, error) {
	e, err := m.Get(id)
	if err != nil {
		return Status{}, err
	}
	op(e)
	return Status{ID: id, State: e.State()}, nil
}

// VisibilityRestored forwards the host's visibility signal to every engine.
func (m *Manager) VisibilityRestored() {
	for _, e := range m.engines() {
		e.OnVisibilityRestored()
	}
}

// Remove discards the timer permanently: its record is deleted.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.timers[id]
	if ok {
		delete(m.timers, id)
		delete(m.keys, e.Key())
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Discard()
	return nil
}

// Shutdown closes every engine, writing final records so the timers recover
// on the next start. It returns the joined write failures.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	engines := make([]*timer.Engine, 0, len(m.timers))
	for _, e := range m.timers {
		engines = append(engines, e)
	}
	m.timers = make(map[string]*timer.Engine)
	m.keys = make(map[string]string)
	m.mu.Unlock()

	var errs []error
	for _, e := range engines {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		m.log.Warn("final timer persistence incomplete", "failed", len(errs), "total", len(engines))
	}
	return errors.Join(errs...)
}

func (m *Manager) engines() []*timer.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*timer.Engine, 0, len(m.timers))
	for _, e := range m.timers {
		out = append(out, e)
	}
	return out
}

func valOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
