package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/manifest/internal/timer"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "manifest.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.DSN != "manifest.db" {
		t.Fatalf("unexpected store dsn: %q", cfg.Store.DSN)
	}
	if cfg.Timer.Namespace != timer.DefaultNamespace {
		t.Fatalf("unexpected namespace: %q", cfg.Timer.Namespace)
	}
	if cfg.Timer.FrameInterval != 100*time.Millisecond || cfg.Timer.PersistInterval != time.Second {
		t.Fatalf("unexpected intervals: %+v", cfg.Timer)
	}
	if cfg.Server.Listen != "127.0.0.1:8080" || cfg.Server.BasePath != "/api" || len(cfg.Server.AllowedOrigins) != 0 {
		t.Fatalf("unexpected server: %+v", cfg.Server)
	}
	if cfg.Log.Level != "info" || cfg.Log.File.MaxSizeMB != 10 {
		t.Fatalf("unexpected log: %+v", cfg.Log)
	}
}

func TestLoad_Full(t *testing.T) {
	file := writeTOML(t, `
[store]
dsn = "yaml:///var/lib/manifest/timers.yaml"

[timer]
namespace = "kitchen"
frame_interval = "250ms"
persist_interval = "2s"
store_timeout = "500ms"

[log]
level = "debug"
format = "json"
  [log.file]
  path = "/tmp/manifest.log"
  max_backups = 5

[history]
dsn = "clickhouse://localhost:9000/timer_history"

[server]
listen = ":9090"
base_path = "/v1"
allowed_origins = ["https://kitchen.example"]

[metrics]
listen = ":9100"

[[timers]]
id = "tea"
mode = "countdown"
initial = 180
auto_start = true

[[timers]]
id = "run"
mode = "stopwatch"
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.DSN != "yaml:///var/lib/manifest/timers.yaml" || cfg.Timer.Namespace != "kitchen" {
		t.Fatalf("unexpected store/timer: %+v %+v", cfg.Store, cfg.Timer)
	}
	if cfg.Timer.FrameInterval != 250*time.Millisecond || cfg.Timer.PersistInterval != 2*time.Second || cfg.Timer.StoreTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected durations: %+v", cfg.Timer)
	}
	if cfg.Log.Format != "json" || cfg.Log.File.Path != "/tmp/manifest.log" || cfg.Log.File.MaxBackups != 5 || cfg.Log.File.MaxAgeDays != 7 {
		t.Fatalf("unexpected log: %+v", cfg.Log)
	}
	if cfg.History.DSN == "" || cfg.Server.Listen != ":9090" || cfg.Server.BasePath != "/v1" || cfg.Metrics.Listen != ":9100" {
		t.Fatalf("unexpected sections: %+v", cfg)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://kitchen.example" {
		t.Fatalf("unexpected allowed origins: %v", cfg.Server.AllowedOrigins)
	}
	if len(cfg.Timers) != 2 {
		t.Fatalf("expected 2 timers, got %d", len(cfg.Timers))
	}
	tea := cfg.Timers[0]
	if tea.ID != "tea" || tea.Mode != "countdown" || tea.Initial != 180 || !tea.AutoStart {
		t.Fatalf("unexpected timer entry: %+v", tea)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	file := writeTOML(t, `
[store]
dsn = "from-file.db"
`)
	t.Setenv("MANIFEST_STORE_DSN", "memory://")
	t.Setenv("MANIFEST_TIMER_PERSIST_INTERVAL", "5s")
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.DSN != "memory://" {
		t.Fatalf("env should override file, got %q", cfg.Store.DSN)
	}
	if cfg.Timer.PersistInterval != 5*time.Second {
		t.Fatalf("env should override default, got %s", cfg.Timer.PersistInterval)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"bad mode": `
[[timers]]
id = "x"
mode = "hourglass"
`,
		"negative initial": `
[[timers]]
id = "x"
mode = "countdown"
initial = -1
`,
		"missing id": `
[[timers]]
mode = "stopwatch"
`,
		"duplicate id": `
[[timers]]
id = "x"
mode = "stopwatch"
[[timers]]
id = "x"
mode = "countdown"
`,
		"zero frame interval": `
[timer]
frame_interval = "0s"
`,
		"empty namespace": `
[timer]
namespace = " "
`,
		"tls without certificates": `
[server.tls]
enabled = true
`,
		"invalid toml": `[store`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeTOML(t, data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_ErrorWrapsSentinel(t *testing.T) {
	_, err := Load(writeTOML(t, `
[[timers]]
id = "x"
mode = "countdown"
initial = -3
`))
	if !errors.Is(err, timer.ErrNegativeInitial) {
		t.Fatalf("expected ErrNegativeInitial, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoad_ExpandsVariables(t *testing.T) {
	t.Setenv("MANIFEST_TEST_STATE", "/var/lib/manifest")
	file := writeTOML(t, `
env = ["CERTS=/etc/manifest/tls"]

[store]
dsn = "yaml://${MANIFEST_TEST_STATE}/timers.yaml"

[history]
dsn = "postgres://u:pa$$@db/history"

[server.tls]
enabled = true
dir = "${CERTS}"
auto_generate = true
min_version = "1.2"
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.DSN != "yaml:///var/lib/manifest/timers.yaml" {
		t.Fatalf("store dsn not expanded: %q", cfg.Store.DSN)
	}
	if cfg.History.DSN != "postgres://u:pa$$@db/history" {
		t.Fatalf("bare $ must be preserved: %q", cfg.History.DSN)
	}
	tls := cfg.Server.TLS
	if !tls.Enabled || tls.Dir != "/etc/manifest/tls" || !tls.AutoGenerate || tls.MinVersion != "1.2" {
		t.Fatalf("unexpected tls: %+v", tls)
	}
}
