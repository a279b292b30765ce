package manifest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/manifest/internal/config"
	"github.com/loykin/manifest/internal/history"
	hfactory "github.com/loykin/manifest/internal/history/factory"
	"github.com/loykin/manifest/internal/logger"
	"github.com/loykin/manifest/internal/manager"
	"github.com/loykin/manifest/internal/metrics"
	iapi "github.com/loykin/manifest/internal/server"
	itls "github.com/loykin/manifest/internal/tls"
	"github.com/loykin/manifest/internal/store"
	sfactory "github.com/loykin/manifest/internal/store/factory"
	"github.com/loykin/manifest/internal/timer"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Mode = timer.Mode

type State = timer.State

type Event = timer.Event

type EventType = timer.EventType

type Engine = timer.Engine

type Options = timer.Options

type Record = timer.Record

type Store = store.KV

type HistorySink = history.Sink

type Config = cfg.Config

type LogConfig = logger.Config

type ServerConfig = cfg.ServerConfig

type TLSConfig = cfg.TLSConfig

type Spec = manager.Spec

type Status = manager.Status

type ManagerConfig = manager.Config

const (
	Countdown = timer.Countdown
	Stopwatch = timer.Stopwatch
)

const (
	EventStart    = timer.EventStart
	EventPause    = timer.EventPause
	EventResume   = timer.EventResume
	EventReset    = timer.EventReset
	EventComplete = timer.EventComplete
	EventRecover  = timer.EventRecover
	EventTick     = timer.EventTick
)

var (
	ErrNotFound        = manager.ErrNotFound
	ErrExists          = manager.ErrExists
	ErrInvalidMode     = timer.ErrInvalidMode
	ErrNegativeInitial = timer.ErrNegativeInitial
)

// NewTimer creates a single engine, recovering a persisted record of the
// same mode from opts.Store when one is compatible.
func NewTimer(opts Options) (*Engine, error) { return timer.New(opts) }

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.
type Manager struct{ inner *manager.Manager }

func NewManager(c ManagerConfig) *Manager { return &Manager{inner: manager.New(c)} }

func (m *Manager) Create(s Spec) (Status, error) { return m.inner.Create(s) }
func (m *Manager) Get(id string) (*Engine, error) { return m.inner.Get(id) }
func (m *Manager) Status(id string) (Status, error) { return m.inner.Status(id) }
func (m *Manager) List() []Status { return m.inner.List() }

// ListMatch filters List by a '*' wildcard pattern over ids.
func (m *Manager) ListMatch(pattern string) []Status { return m.inner.ListMatch(pattern) }

// Do applies op to the engine registered under id and returns its new status.
func (m *Manager) Do(id string, op func(*Engine)) (Status, error) { return m.inner.Do(id, op) }
func (m *Manager) Remove(id string) error { return m.inner.Remove(id) }
func (m *Manager) VisibilityRestored() { m.inner.VisibilityRestored() }
func (m *Manager) Shutdown() error { return m.inner.Shutdown() }

// OpenStore opens a key-value store from a DSN (sqlite path or sqlite://,
// postgres://, yaml://, memory://) and prepares its schema.
func OpenStore(dsn string) (Store, error) {
	kv, err := sfactory.NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Prepare(ctx, kv); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("prepare store: %w", err)
	}
	return kv, nil
}

// OpenHistory opens a lifecycle event sink (sqlite, postgres, clickhouse).
func OpenHistory(dsn string) (HistorySink, error) { return hfactory.NewSinkFromDSN(dsn) }

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) { return timer.ParseMode(s) }

// KeyPrefix is the store prefix shared by every record of mode m.
func KeyPrefix(namespace string, m Mode) string { return timer.KeyPrefix(namespace, m) }

// DecodeRecord parses a stored record of mode want.
func DecodeRecord(raw string, want Mode) (Record, error) { return timer.DecodeRecord(raw, want) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewLogger builds a slog.Logger; the closer releases the log file.
func NewLogger(c LogConfig) (*slog.Logger, io.Closer, error) { return logger.New(c) }

// NewHTTPHandler returns the timer API as an http.Handler rooted at basePath.
func NewHTTPHandler(m *Manager, basePath string, log *slog.Logger) http.Handler {
	return iapi.NewRouter(m.inner, basePath, log).Handler()
}

// NewHTTPServer builds an http.Server exposing the timer API. The caller
// runs ListenAndServe and Shutdown.
func NewHTTPServer(addr, basePath string, m *Manager, log *slog.Logger) *http.Server {
	return iapi.NewServer(addr, basePath, m.inner, log)
}

// NewTLSServer builds the API server from a server config. When TLS is
// enabled the returned server carries its TLSConfig (generating a
// self-signed certificate if configured) and must be run with ServeTLS.
func NewTLSServer(sc ServerConfig, m *Manager, log *slog.Logger) (*http.Server, error) {
	srv := iapi.NewRouter(m.inner, sc.BasePath, log).AllowOrigins(sc.AllowedOrigins...).Server(sc.Listen)
	tc, err := itls.Setup(sc.TLS)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	srv.TLSConfig = tc
	return srv, nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }

// NewMetricsServer returns an http.Server exposing /metrics on addr.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// ServeMetrics blocks serving /metrics on addr.
func ServeMetrics(addr string) error { return NewMetricsServer(addr).ListenAndServe() }
