// Package config loads agent-loop settings from a yaml (or jsonc) file and
// the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/muhammadmuzzammil1998/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up under the root when no --config is given.
const DefaultFileName = "agent-loop.yaml"

// Config holds all agent-loop configuration.
type Config struct {
	Root         string `yaml:"root" json:"root"`
	FrontendRoot string `yaml:"frontend_root" json:"frontend_root"`
	ThoughtsFile string `yaml:"thoughts_file" json:"thoughts_file"`

	Loop      LoopConfig      `yaml:"loop" json:"loop"`
	Generator GeneratorConfig `yaml:"generator" json:"generator"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Notify    NotifyConfig    `yaml:"notify" json:"notify"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// LoopConfig configures the supervisor heartbeat.
type LoopConfig struct {
	Interval     Duration `yaml:"interval" json:"interval"`
	Batch        int      `yaml:"batch" json:"batch"`                 // intents dispatched per tick
	FailureCap   int      `yaml:"failure_cap" json:"failure_cap"`     // failures before an intent is poisoned
	RecentEvents int      `yaml:"recent_events" json:"recent_events"` // events in a status snapshot
	EnergyDelta  float64  `yaml:"energy_delta" json:"energy_delta"`
	WatchQueue   bool     `yaml:"watch_queue" json:"watch_queue"`
}

// GeneratorConfig configures intent generation.
type GeneratorConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Backpressure int     `yaml:"backpressure" json:"backpressure"`
	ForceEvery   uint64  `yaml:"force_every" json:"force_every"`
	Threshold    float64 `yaml:"threshold" json:"threshold"`
}

// StoreConfig configures the state store.
type StoreConfig struct {
	KeepBackups int  `yaml:"keep_backups" json:"keep_backups"`
	Index       bool `yaml:"index" json:"index"`
}

// NotifyConfig configures the notifier port.
type NotifyConfig struct {
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	Interval   Duration `yaml:"interval" json:"interval"`
	WebhookURL string   `yaml:"webhook_url" json:"webhook_url"`
	Timeout    Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, console
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Root:         ".",
		FrontendRoot: filepath.Join("frontend", "src"),
		ThoughtsFile: "thoughts.md",
		Loop: LoopConfig{
			Interval:     Duration(15 * time.Second),
			Batch:        2,
			FailureCap:   3,
			RecentEvents: 20,
			EnergyDelta:  0.05,
			WatchQueue:   true,
		},
		Generator: GeneratorConfig{
			Enabled:      true,
			Backpressure: 5,
			ForceEvery:   5,
			Threshold:    0.3,
		},
		Store: StoreConfig{
			KeepBackups: 10,
			Index:       true,
		},
		Notify: NotifyConfig{
			Interval: Duration(2 * time.Second),
			Timeout:  Duration(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

// Save writes the config as yaml.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AGENT_LOOP_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("AGENT_LOOP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Loop.Interval = Duration(d)
		}
	}
	if v := os.Getenv("AGENT_LOOP_NOTIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Notify.Enabled = b
		}
	}
	if v := os.Getenv("AGENT_LOOP_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
	if v := os.Getenv("AGENT_LOOP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the config for values the loop cannot run with.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root is empty")
	}
	if c.Loop.Interval < 0 {
		return fmt.Errorf("loop.interval must not be negative")
	}
	if c.Loop.Batch <= 0 {
		return fmt.Errorf("loop.batch must be positive, got %d", c.Loop.Batch)
	}
	if c.Loop.FailureCap <= 0 {
		return fmt.Errorf("loop.failure_cap must be positive, got %d", c.Loop.FailureCap)
	}
	if c.Generator.Backpressure <= 0 {
		return fmt.Errorf("generator.backpressure must be positive, got %d", c.Generator.Backpressure)
	}
	if c.Generator.Threshold < 0 || c.Generator.Threshold > 1 {
		return fmt.Errorf("generator.threshold must be in [0,1], got %v", c.Generator.Threshold)
	}
	if c.Store.KeepBackups <= 0 {
		return fmt.Errorf("store.keep_backups must be positive, got %d", c.Store.KeepBackups)
	}
	if c.Notify.Interval < 0 {
		return fmt.Errorf("notify.interval must not be negative")
	}
	if c.Notify.Enabled && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify enabled but no webhook url (set AGENT_LOOP_WEBHOOK_URL)")
	}
	return nil
}

// ResolvePath joins p onto the root unless p is absolute.
func (c *Config) ResolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}
