// Package config loads and watches timerd's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Log   LogConfig   `yaml:"log"`
	Store StoreConfig `yaml:"store"`
	Sched SchedConfig `yaml:"sched"`
	Stats StatsConfig `yaml:"stats"`
}

type LogConfig struct {
	Level   string        `yaml:"level"`
	Console bool          `yaml:"console"`
	File    LogFileConfig `yaml:"file"`
}

type LogFileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type StoreConfig struct {
	Driver      string   `yaml:"driver"`
	DSN         string   `yaml:"dsn"`
	BusyTimeout Duration `yaml:"busy_timeout"`
}

type SchedConfig struct {
	Horizon         Duration `yaml:"horizon"`
	EphemeralWindow Duration `yaml:"ephemeral_window"`
	RetryBackoff    Duration `yaml:"retry_backoff"`
}

// StatsConfig controls the periodic snapshot log line.
type StatsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron spec, e.g. "*/5 * * * *"
}

// Default returns the configuration used when a field (or the whole file)
// is absent.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Console: true},
		Store: StoreConfig{
			Driver:      "sqlite",
			DSN:         "data/timerd.db",
			BusyTimeout: Duration{5 * time.Second},
		},
		Sched: SchedConfig{
			Horizon:         Duration{40 * 24 * time.Hour},
			EphemeralWindow: Duration{60 * time.Second},
			RetryBackoff:    Duration{5 * time.Second},
		},
		Stats: StatsConfig{Enabled: true, Schedule: "*/5 * * * *"},
	}
}

// Load parses the YAML file at path on top of defaults. Unknown fields are
// an error so typos surface immediately.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := unmarshalStrict(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// unmarshalStrict decodes on top of out with unknown keys rejected.
// An empty document leaves the defaults untouched.
func unmarshalStrict(b []byte, out *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
