package config

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"relaystore/internal/log"
)

const (
	// DefaultListen is the default relay HTTP listen address.
	DefaultListen = ":6881"
	// DefaultCacheSize is the default number of records a relay keeps.
	DefaultCacheSize = 1_000_000
	// DefaultRatePerSecond is the default sustained PUT rate per client IP.
	DefaultRatePerSecond = 2
	// DefaultRateBurst is the default PUT burst per client IP.
	DefaultRateBurst = 10
)

// RateLimiterConfig bounds the PUT rate of a single client address.
type RateLimiterConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// RelayConfig holds the configuration of a relay server.
type RelayConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// HealthListen is the gRPC health listen address. Empty disables it.
	HealthListen string `yaml:"health_listen"`
	// CachePath is the bbolt database file. Empty keeps records in memory.
	CachePath string `yaml:"cache_path"`
	// CacheSize bounds the in-memory store.
	CacheSize int `yaml:"cache_size"`
	// RequireCAS rejects overwrites without If-Unmodified-Since with 428.
	RequireCAS bool `yaml:"require_cas"`
	// RateLimiter bounds PUTs per client IP. Nil disables rate limiting.
	RateLimiter *RateLimiterConfig `yaml:"rate_limiter"`
	// LogLevel is the minimum level logged, see log.ParseLevel.
	LogLevel string `yaml:"log_level"`
}

// DefaultRelayConfig returns a relay configuration with every default set.
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		Listen:    DefaultListen,
		CacheSize: DefaultCacheSize,
		LogLevel:  "info",
	}
}

// Load reads a YAML relay configuration file. Unset fields keep their defaults.
func Load(path string) (*RelayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultRelayConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports every problem found.
func (c *RelayConfig) Validate() error {
	var err error
	if c.Listen == "" {
		err = multierr.Append(err, errors.New("listen address is required"))
	}
	if c.HealthListen != "" && c.HealthListen == c.Listen {
		err = multierr.Append(err, fmt.Errorf("health_listen must differ from listen: %s", c.Listen))
	}
	if c.CacheSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("cache_size must be positive: %d", c.CacheSize))
	}
	if rl := c.RateLimiter; rl != nil {
		if rl.PerSecond <= 0 {
			err = multierr.Append(err, fmt.Errorf("rate_limiter.per_second must be positive: %v", rl.PerSecond))
		}
		if rl.Burst <= 0 {
			err = multierr.Append(err, fmt.Errorf("rate_limiter.burst must be positive: %d", rl.Burst))
		}
	}
	if _, lerr := log.ParseLevel(c.LogLevel); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	return err
}
