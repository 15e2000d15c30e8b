package session

import (
	"time"

	"github.com/fentz26/lookout/internal/state"
)

// Config defines how a session maintains its state.
type Config struct {
	// RetainFor is how long completed entities are kept.
	RetainFor time.Duration `yaml:"retain_for"`
	// SweepInterval is how often completed entities are evicted.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// Visibility is how new entities are inserted. Sessions without a
	// renderer draining new entities use state.Hide.
	Visibility state.Visibility `yaml:"-"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		RetainFor:     6 * time.Second,
		SweepInterval: time.Second,
	}
}
