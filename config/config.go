// Package config loads tablecache configuration from layered JSON or YAML
// files and TABLECACHE_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/tablecache/errors"
	"github.com/c360/tablecache/tablebase"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig            `json:"server"`
	Log           LogConfig               `json:"log"`
	Tablebase     tablebase.ClientConfig  `json:"tablebase"`
	Cache         tablebase.ServiceConfig `json:"cache"`
	StatsInterval time.Duration           `json:"stats_interval"`
}

// ServerConfig defines the HTTP listeners
type ServerConfig struct {
	Addr            string        `json:"addr"`
	MetricsAddr     string        `json:"metrics_addr"`
	MetricsPath     string        `json:"metrics_path"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// LogConfig defines logger settings
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsAddr:     ":9090",
			MetricsPath:     "/metrics",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tablebase:     tablebase.DefaultClientConfig(),
		Cache:         tablebase.DefaultServiceConfig(),
		StatsInterval: time.Minute,
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "server.addr")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("validate server.shutdown_timeout (must be positive, got %v)", c.Server.ShutdownTimeout))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("validate log.level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("validate log.format %q", c.Log.Format))
	}

	if err := c.Tablebase.Validate(); err != nil {
		return errors.Wrap(err, "config", "Validate", "tablebase")
	}
	if err := c.Cache.Validate(); err != nil {
		return errors.Wrap(err, "config", "Validate", "cache")
	}
	if c.StatsInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"validate stats_interval (cannot be negative)")
	}
	return nil
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// durationKeys are converted from duration strings to nanoseconds before decoding
var durationKeys = map[string]bool{
	"timeout":          true,
	"read_timeout":     true,
	"write_timeout":    true,
	"shutdown_timeout": true,
	"ttl":              true,
	"initial_delay":    true,
	"max_delay":        true,
	"stats_interval":   true,
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  "TABLECACHE",
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and the environment, in that order
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		rawConfig, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("load %s", filepath.Base(path)))
		}
		cfg, err = l.mergeFromMap(cfg, rawConfig)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("merge %s", filepath.Base(path)))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw reads a JSON or YAML file into a map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	var rawConfig map[string]any
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	default:
		if err := checkNesting(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	}

	if err := parseDurations(rawConfig); err != nil {
		return nil, err
	}
	return rawConfig, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// parseDurations walks the map and converts duration strings to nanoseconds
func parseDurations(data map[string]any) error {
	for k, v := range data {
		switch val := v.(type) {
		case map[string]any:
			if err := parseDurations(val); err != nil {
				return err
			}
		case string:
			if !durationKeys[k] {
				continue
			}
			d, err := parseDurationWithDays(val)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, k, err)
			}
			data[k] = d.Nanoseconds()
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strVars := map[string]*string{
		"_SERVER_ADDR":   &cfg.Server.Addr,
		"_METRICS_ADDR":  &cfg.Server.MetricsAddr,
		"_LOG_LEVEL":     &cfg.Log.Level,
		"_LOG_FORMAT":    &cfg.Log.Format,
		"_TABLEBASE_URL": &cfg.Tablebase.BaseURL,
	}
	for suffix, target := range strVars {
		key := l.envPrefix + suffix
		val := os.Getenv(key)
		if err := checkEnvValue(key, val); err != nil {
			return errors.WrapInvalid(err, "config", "applyEnvOverrides", key)
		}
		if val != "" {
			*target = val
		}
	}

	intVars := map[string]*int{
		"_CACHE_MAX_SIZE":    &cfg.Cache.DataCache.MaxSize,
		"_INFLIGHT_MAX_SIZE": &cfg.Cache.InFlightCache.MaxSize,
	}
	for suffix, target := range intVars {
		key := l.envPrefix + suffix
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
					"config", "applyEnvOverrides", key)
			}
			*target = n
		}
	}

	durationVars := map[string]*time.Duration{
		"_CACHE_TTL":      &cfg.Cache.DataCache.TTL,
		"_INFLIGHT_TTL":   &cfg.Cache.InFlightCache.TTL,
		"_STATS_INTERVAL": &cfg.StatsInterval,
	}
	for suffix, target := range durationVars {
		key := l.envPrefix + suffix
		if val := os.Getenv(key); val != "" {
			d, err := parseDurationWithDays(val)
			if err != nil {
				return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
					"config", "applyEnvOverrides", key)
			}
			*target = d
		}
	}

	return nil
}
