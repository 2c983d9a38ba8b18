package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "log:\n  level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("Driver = %q, want default sqlite", cfg.Store.Driver)
	}
	if cfg.Sched.Horizon.Duration != 40*24*time.Hour {
		t.Fatalf("Horizon = %v, want 40 days", cfg.Sched.Horizon.Duration)
	}
	if cfg.Sched.EphemeralWindow.Duration != 60*time.Second {
		t.Fatalf("EphemeralWindow = %v, want 60s", cfg.Sched.EphemeralWindow.Duration)
	}
}

func TestLoadFull(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
log:
  level: warn
  console: false
  file:
    enabled: true
    path: /tmp/timerd.log
store:
  driver: postgres
  dsn: postgres://timerd@localhost/timerd?sslmode=disable
sched:
  horizon: 7d
  ephemeral_window: 30s
  retry_backoff: 2s
stats:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "postgres" {
		t.Fatalf("Driver = %q", cfg.Store.Driver)
	}
	if cfg.Sched.Horizon.Duration != 7*24*time.Hour {
		t.Fatalf("Horizon = %v, want 7 days", cfg.Sched.Horizon.Duration)
	}
	if cfg.Sched.EphemeralWindow.Duration != 30*time.Second {
		t.Fatalf("EphemeralWindow = %v", cfg.Sched.EphemeralWindow.Duration)
	}
	if cfg.Stats.Enabled {
		t.Fatal("stats should be disabled")
	}
}

func TestLoadUnknownField(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "shed:\n  horizon: 7d\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatal("empty file should yield defaults")
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
		err  bool
	}{
		{raw: "40d", want: 40 * 24 * time.Hour},
		{raw: "1d12h", want: 36 * time.Hour},
		{raw: "90s", want: 90 * time.Second},
		{raw: "", want: 0},
		{raw: "nope", err: true},
		{raw: "xd", err: true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.raw)
		if tt.err {
			if err == nil {
				t.Fatalf("parseDuration(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseDuration(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("parseDuration(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
