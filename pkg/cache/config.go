package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/tablecache/errors"
)

// Config contains configuration for cache creation.
type Config struct {
	// Enabled determines if caching is enabled.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxSize is the maximum number of entries.
	MaxSize int `json:"max_size" yaml:"max_size"`

	// TTL is the default time-to-live for entries.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		MaxSize: 1000,
		TTL:     5 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("validate max_size (must be positive, got %d)", c.MaxSize))
	}
	if c.TTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("validate ttl (must be positive, got %v)", c.TTL))
	}
	return nil
}

// NewFromConfig creates an LRU cache from configuration, or a Noop cache when
// caching is disabled.
func NewFromConfig[K comparable, V any](config Config, options ...Option[K, V]) (Cache[K, V], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewFromConfig", "config validation")
	}

	if !config.Enabled {
		return NewNoop[K, V](), nil
	}

	return NewLRU[K, V](config.MaxSize, config.TTL, options...)
}

// NewNoop creates a cache that stores nothing and always misses.
func NewNoop[K comparable, V any]() Cache[K, V] {
	return &noopCache[K, V]{stats: NewStatistics()}
}

type noopCache[K comparable, V any] struct {
	stats *Statistics
}

func (c *noopCache[K, V]) Get(_ K) (V, bool) {
	c.stats.Miss()
	var zero V
	return zero, false
}

func (c *noopCache[K, V]) Set(_ K, _ V) {}

func (c *noopCache[K, V]) SetWithTTL(_ K, _ V, _ time.Duration) {}

func (c *noopCache[K, V]) Has(_ K) bool { return false }

func (c *noopCache[K, V]) Peek(_ K) (V, bool) {
	var zero V
	return zero, false
}

func (c *noopCache[K, V]) Delete(_ K) bool { return false }

func (c *noopCache[K, V]) Clear() {}

func (c *noopCache[K, V]) Size() int { return 0 }

func (c *noopCache[K, V]) Keys() []K { return nil }

func (c *noopCache[K, V]) Stats() StatsSummary {
	return c.stats.Summary(0, 0)
}

// UnmarshalJSON accepts TTL as a duration string ("5m") or integer nanoseconds.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config

	aux := &struct {
		TTL json.RawMessage `json:"ttl,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.TTL) > 0 {
		ttl, err := parseDurationField(aux.TTL, "ttl")
		if err != nil {
			return err
		}
		c.TTL = ttl
	}

	return nil
}

// parseDurationField parses a JSON duration that is either a string like "1h"
// or an integer number of nanoseconds.
func parseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '1h') or integer nanoseconds", fieldName)
	}
	return time.Duration(nsec), nil
}
