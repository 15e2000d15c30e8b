// Package config loads lookout's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fentz26/lookout/internal/warnings"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// DefaultTarget is the instrumented program's default feed address.
const DefaultTarget = "ws://127.0.0.1:6669/updates"

// Config holds console configuration.
type Config struct {
	// Target is the feed address of the instrumented program.
	Target string `yaml:"target"`
	// RetainFor is how long completed entities stay visible.
	RetainFor time.Duration `yaml:"retain_for"`
	// RefreshInterval is how often the display redraws and stale entities
	// are swept.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// LogFile is where diagnostics are written. Empty disables logging.
	LogFile string `yaml:"log_file"`
	// LogLevel is a zap level name.
	LogLevel string `yaml:"log_level"`
	// Warnings configures the task lints.
	Warnings Warnings `yaml:"warnings"`
}

// Warnings configures the task lints.
type Warnings struct {
	SelfWakePercent  uint64        `yaml:"self_wake_percent"`
	NeverYielded     time.Duration `yaml:"never_yielded"`
	LargeFutureBytes uint64        `yaml:"large_future_bytes"`
	// Disabled lists lint names to turn off.
	Disabled []string `yaml:"disabled"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	opts := warnings.DefaultTaskOptions()
	return &Config{
		Target:          DefaultTarget,
		RetainFor:       6 * time.Second,
		RefreshInterval: 250 * time.Millisecond,
		LogLevel:        "info",
		Warnings: Warnings{
			SelfWakePercent:  opts.SelfWakePercent,
			NeverYielded:     opts.NeverYielded,
			LargeFutureBytes: opts.LargeFutureBytes,
			Disabled:         []string{},
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults; fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultPath returns ~/.lookout/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	return filepath.Join(home, ".lookout", "config.yaml"), nil
}

// LoadFromHome loads configuration from DefaultPath.
func LoadFromHome() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// Save writes configuration to a YAML file, creating parent directories if
// needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs error

	if u, err := url.Parse(c.Target); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("target: %w", err))
	} else if !slices.Contains([]string{"ws", "wss", "http", "https"}, u.Scheme) || u.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("target %q must be a ws, wss, http or https URL", c.Target))
	}
	if c.RetainFor <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("retain_for must be positive"))
	}
	if c.RefreshInterval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("refresh_interval must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Warnings.SelfWakePercent > 100 {
		errs = multierr.Append(errs, fmt.Errorf("warnings.self_wake_percent must be at most 100"))
	}
	if c.Warnings.NeverYielded <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("warnings.never_yielded must be positive"))
	}
	known := warnings.TaskRuleNames()
	for _, name := range c.Warnings.Disabled {
		if !slices.Contains(known, name) {
			errs = multierr.Append(errs, fmt.Errorf("warnings.disabled: unknown lint %q", name))
		}
	}

	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, errs)
	}
	return nil
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// TaskOptions converts the lint settings.
func (c *Config) TaskOptions() warnings.TaskOptions {
	return warnings.TaskOptions{
		SelfWakePercent:  c.Warnings.SelfWakePercent,
		NeverYielded:     c.Warnings.NeverYielded,
		LargeFutureBytes: c.Warnings.LargeFutureBytes,
		Disabled:         c.Warnings.Disabled,
	}
}

// TaskLinters builds the enabled task lints.
func (c *Config) TaskLinters(logger *zap.Logger) []*warnings.Linter[warnings.Task] {
	return warnings.TaskLinters(c.TaskOptions(), logger)
}
