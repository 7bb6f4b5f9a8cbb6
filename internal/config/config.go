// Package config loads deployment configuration: a YAML file with
// defaults-then-overlay semantics plus environment overrides for the serve
// daemon. The loaded file's content hash is reported so receipts and
// doctor output can state exactly which configuration was in force.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/steward-sh/steward/internal/gate"
	"github.com/steward-sh/steward/internal/governor"
)

// GovernorConfig holds token bucket parameters, deployment-wide (not per
// fingerprint).
type GovernorConfig struct {
	Capacity        float64 `yaml:"capacity"`
	RefillPerMinute float64 `yaml:"refill_per_minute"`
	CostPerRun      float64 `yaml:"cost_per_run"`
}

// ConfidenceConfig holds decay parameters.
type ConfidenceConfig struct {
	HalfLife      string `yaml:"half_life"`
	PolicyVersion string `yaml:"policy_version"`
}

// BreakerConfig holds the auto-open thresholds for the circuit breaker.
type BreakerConfig struct {
	PolicyDenials         int    `yaml:"policy_denials"`
	Rollbacks             int    `yaml:"rollbacks"`
	ConfidenceRegressions int    `yaml:"confidence_regressions"`
	Window                string `yaml:"window"`
	OpenFor               string `yaml:"open_for"`
}

// Config is the full deployment configuration.
type Config struct {
	StorePath  string `yaml:"store_path"`
	LedgerPath string `yaml:"ledger_path"`
	JobsPath   string `yaml:"jobs_path"`

	Governor   GovernorConfig   `yaml:"governor"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Breaker    BreakerConfig    `yaml:"breaker"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dir := filepath.Join(home, ".steward")
	return &Config{
		StorePath:  filepath.Join(dir, "steward.db"),
		LedgerPath: filepath.Join(dir, "receipts.jsonl"),
		JobsPath:   filepath.Join(dir, "jobs.yaml"),
		Governor: GovernorConfig{
			Capacity:        10,
			RefillPerMinute: 1,
			CostPerRun:      1,
		},
		Confidence: ConfidenceConfig{
			HalfLife:      "168h",
			PolicyVersion: "v1",
		},
		Breaker: BreakerConfig{
			PolicyDenials:         5,
			Rollbacks:             3,
			ConfidenceRegressions: 2,
			Window:                "1h",
			OpenFor:               "1h",
		},
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "steward.yaml"
	}
	return filepath.Join(home, ".steward", "config.yaml")
}

// Load reads configuration from a YAML file. Empty path falls back to the
// conventional location; a missing file returns defaults. YAML overwrites
// only the fields it specifies.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 of the raw
// bytes on disk. Defaults (no file) hash the empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return Default(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// Validate checks value ranges and duration syntax.
func (c *Config) Validate() error {
	if c.Governor.Capacity <= 0 {
		return fmt.Errorf("config: governor capacity must be positive")
	}
	if c.Governor.RefillPerMinute <= 0 {
		return fmt.Errorf("config: governor refill_per_minute must be positive")
	}
	if c.Governor.CostPerRun <= 0 {
		return fmt.Errorf("config: governor cost_per_run must be positive")
	}
	if _, err := time.ParseDuration(c.Confidence.HalfLife); err != nil {
		return fmt.Errorf("config: confidence half_life: %w", err)
	}
	for name, v := range map[string]string{"window": c.Breaker.Window, "open_for": c.Breaker.OpenFor} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: breaker %s: %w", name, err)
		}
	}
	return nil
}

// GovernorParams converts to governor parameters.
func (c *Config) GovernorParams() governor.Params {
	return governor.Params{
		Capacity:        c.Governor.Capacity,
		RefillPerMinute: c.Governor.RefillPerMinute,
		CostPerRun:      c.Governor.CostPerRun,
	}
}

// HalfLife returns the parsed confidence decay half-life.
func (c *Config) HalfLife() time.Duration {
	d, err := time.ParseDuration(c.Confidence.HalfLife)
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}

// Thresholds converts to gate breach thresholds.
func (c *Config) Thresholds() gate.Thresholds {
	window, err := time.ParseDuration(c.Breaker.Window)
	if err != nil {
		window = time.Hour
	}
	openFor, err := time.ParseDuration(c.Breaker.OpenFor)
	if err != nil {
		openFor = time.Hour
	}
	return gate.Thresholds{
		PolicyDenials:         c.Breaker.PolicyDenials,
		Rollbacks:             c.Breaker.Rollbacks,
		ConfidenceRegressions: c.Breaker.ConfidenceRegressions,
		Window:                window,
		OpenFor:               openFor,
	}
}

// ServeEnv is the environment override surface for the serve daemon.
type ServeEnv struct {
	ConfigPath   string        `env:"STEWARD_CONFIG"`
	StorePath    string        `env:"STEWARD_STORE"`
	LedgerPath   string        `env:"STEWARD_LEDGER"`
	JobsPath     string        `env:"STEWARD_JOBS"`
	TickInterval time.Duration `env:"STEWARD_TICK_INTERVAL" envDefault:"1m"`
	LogLevel     string        `env:"STEWARD_LOG_LEVEL" envDefault:"info"`
}

// LoadServeEnv parses serve-mode settings from the environment.
func LoadServeEnv() (ServeEnv, error) {
	var se ServeEnv
	if err := env.Parse(&se); err != nil {
		return ServeEnv{}, fmt.Errorf("config: parse env: %w", err)
	}
	return se, nil
}

// Apply overlays the non-empty env overrides onto a loaded config.
func (se ServeEnv) Apply(cfg *Config) {
	if se.StorePath != "" {
		cfg.StorePath = se.StorePath
	}
	if se.LedgerPath != "" {
		cfg.LedgerPath = se.LedgerPath
	}
	if se.JobsPath != "" {
		cfg.JobsPath = se.JobsPath
	}
}

// DefaultConfigYAML returns a commented YAML string for init-config.
func DefaultConfigYAML() string {
	return `# steward configuration
# Generated by: steward init-config

# Where persisted governance state lives.
# store_path:  keyed document store (SQLite)
# ledger_path: append-only receipt ledger (JSONL, hash-chained)
# jobs_path:   recurring job definitions
store_path: ~/.steward/steward.db
ledger_path: ~/.steward/receipts.jsonl
jobs_path: ~/.steward/jobs.yaml

# Token bucket, shared by every fingerprint.
# capacity tokens, refilled at refill_per_minute, each allowed run
# debits cost_per_run.
governor:
  capacity: 10
  refill_per_minute: 1
  cost_per_run: 1

# Confidence decay. Scores halve every half_life of artifact age.
confidence:
  half_life: 168h
  policy_version: v1

# Automatic circuit breaker. Crossing any count within the rolling
# window opens the breaker for open_for.
breaker:
  policy_denials: 5
  rollbacks: 3
  confidence_regressions: 2
  window: 1h
  open_for: 1h

# Recurring jobs live in jobs_path, for example:
#
# jobs:
#   - job_id: daily-digest
#     command: "/email send digest"
#     schedule: "daily@09:00"
#     mode: approval_gated
`
}
