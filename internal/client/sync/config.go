package sync

import (
	"errors"
	"fmt"
	"time"
)

// Config параметры протокола синхронизации
type Config struct {
	// StaleWindow: inbound messages older than this are rejected
	StaleWindow time.Duration
	// Debounce is the quiet period after which a call site's pending messages are sent
	Debounce time.Duration
	// DedupSize bounds the remembered (tabId, timestamp) keys
	DedupSize int
	// MirrorToFallback also writes every message to the fallback when a primary exists
	MirrorToFallback bool
}

// DefaultConfig returns the protocol defaults
func DefaultConfig() Config {
	return Config{
		StaleWindow:      5 * time.Second,
		Debounce:         30 * time.Millisecond,
		DedupSize:        1024,
		MirrorToFallback: true,
	}
}

// ErrInvalidConfig indicates a configuration that cannot be used
var ErrInvalidConfig = errors.New("invalid sync config")

// Validate checks the configuration
func (c Config) Validate() error {
	if c.StaleWindow <= 0 {
		return fmt.Errorf("%w: stale window must be positive", ErrInvalidConfig)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("%w: debounce must not be negative", ErrInvalidConfig)
	}
	if c.DedupSize <= 0 {
		return fmt.Errorf("%w: dedup size must be positive", ErrInvalidConfig)
	}
	return nil
}
