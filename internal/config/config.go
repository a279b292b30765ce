package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/manifest/internal/env"
	"github.com/loykin/manifest/internal/logger"
	"github.com/loykin/manifest/internal/schedule"
	"github.com/loykin/manifest/internal/timer"
)

// EnvPrefix is prepended to every environment override, e.g.
// MANIFEST_STORE_DSN or MANIFEST_TIMER_FRAME_INTERVAL.
const EnvPrefix = "MANIFEST"

// Config represents the top-level TOML structure.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Timer   TimerConfig   `mapstructure:"timer"`
	Log     logger.Config `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Timers  []TimerEntry  `mapstructure:"timers"`
	// Env holds "K=V" pairs available to ${VAR} references in DSNs and
	// paths, alongside the process environment.
	Env []string `mapstructure:"env"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type TimerConfig struct {
	Namespace       string        `mapstructure:"namespace"`
	FrameInterval   time.Duration `mapstructure:"frame_interval"`
	PersistInterval time.Duration `mapstructure:"persist_interval"`
	StoreTimeout    time.Duration `mapstructure:"store_timeout"`
}

// HistoryConfig selects an optional lifecycle event sink. An empty DSN
// disables history.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string    `mapstructure:"listen"`
	BasePath string    `mapstructure:"base_path"`
	TLS      TLSConfig `mapstructure:"tls"`

	// AllowedOrigins lists browser origins, besides the server's own, that
	// may open watch streams. "*" allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TLSConfig enables HTTPS for the API. CertFile/KeyFile take priority over
// Dir, which holds tls.crt and tls.key (generated when AutoGenerate is set).
type TLSConfig struct {
	Enabled      bool       `mapstructure:"enabled"`
	CertFile     string     `mapstructure:"cert_file"`
	KeyFile      string     `mapstructure:"key_file"`
	Dir          string     `mapstructure:"dir"`
	AutoGenerate bool       `mapstructure:"auto_generate"`
	MinVersion   string     `mapstructure:"min_version"`
	MaxVersion   string     `mapstructure:"max_version"`
	AutoGen      AutoGenTLS `mapstructure:"auto_gen"`
}

// AutoGenTLS shapes the self-signed certificate.
type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// MetricsConfig exposes /metrics on its own listener when Listen is set.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// TimerEntry declares a timer the server creates at startup. Its persisted
// record, if any, is recovered under ID.
type TimerEntry struct {
	ID        string  `mapstructure:"id"`
	Mode      string  `mapstructure:"mode"`
	Initial   float64 `mapstructure:"initial"`
	AutoStart bool    `mapstructure:"auto_start"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.dsn", "manifest.db")
	v.SetDefault("timer.namespace", timer.DefaultNamespace)
	v.SetDefault("timer.frame_interval", schedule.DefaultFrameInterval)
	v.SetDefault("timer.persist_interval", schedule.DefaultPersistInterval)
	v.SetDefault("timer.store_timeout", timer.DefaultStoreTimeout)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("metrics.listen", "")
}

// Load reads the TOML file at path, applies defaults and MANIFEST_*
// environment overrides, and validates the result. An empty path yields
// defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		// Mitigate G304: sanitize user-provided path by cleaning it before use.
		v.SetConfigFile(filepath.Clean(path))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expand resolves ${VAR} references in DSNs and file paths.
func (c *Config) expand() {
	e := env.New()
	e.SetPairs(c.Env)
	for _, p := range []*string{
		&c.Store.DSN,
		&c.History.DSN,
		&c.Log.File.Path,
		&c.Server.TLS.CertFile,
		&c.Server.TLS.KeyFile,
		&c.Server.TLS.Dir,
	} {
		*p = e.Expand(*p)
	}
}

// Validate checks value ranges and timer declarations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Timer.Namespace) == "" {
		return errors.New("timer.namespace must not be empty")
	}
	if c.Timer.FrameInterval <= 0 {
		return fmt.Errorf("timer.frame_interval must be positive, got %s", c.Timer.FrameInterval)
	}
	if c.Timer.PersistInterval <= 0 {
		return fmt.Errorf("timer.persist_interval must be positive, got %s", c.Timer.PersistInterval)
	}
	if c.Timer.StoreTimeout <= 0 {
		return fmt.Errorf("timer.store_timeout must be positive, got %s", c.Timer.StoreTimeout)
	}
	if t := c.Server.TLS; t.Enabled && (t.CertFile == "" || t.KeyFile == "") && t.Dir == "" {
		return errors.New("server.tls requires cert_file and key_file, or dir")
	}
	seen := make(map[string]struct{}, len(c.Timers))
	for i, te := range c.Timers {
		if te.ID == "" {
			return fmt.Errorf("timers[%d] requires id", i)
		}
		if _, dup := seen[te.ID]; dup {
			return fmt.Errorf("timers[%d]: duplicate id %q", i, te.ID)
		}
		seen[te.ID] = struct{}{}
		if _, err := timer.ParseMode(te.Mode); err != nil {
			return fmt.Errorf("timer %s: %w", te.ID, err)
		}
		if te.Initial < 0 {
			return fmt.Errorf("timer %s: %w", te.ID, timer.ErrNegativeInitial)
		}
	}
	return nil
}
