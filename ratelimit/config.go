/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/acronis/go-loadguard/config"
)

const cfgDefaultKeyPrefix = "rateLimit"

// Rate-limiting algorithms.
const (
	AlgFixedWindow   = "fixed_window"
	AlgSlidingWindow = "sliding_window"
	AlgTokenBucket   = "token_bucket"
	AlgLeakyBucket   = "leaky_bucket"
)

// Default configuration values.
const (
	DefaultRateCount     = 100
	DefaultRateDuration  = time.Minute
	DefaultSweepInterval = time.Minute
	DefaultMaxKeys       = 10000

	DefaultCPUAwareThreshold = 70.0
	DefaultCPUAwareFactor    = 0.5
)

// CPUAwareConfig configures tightening of the effective limit under CPU pressure.
type CPUAwareConfig struct {
	// Enabled turns CPU-aware limiting on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Threshold is the sampler-reported CPU usage percentage at which the limit is tightened.
	Threshold config.Percent `mapstructure:"threshold" yaml:"threshold" json:"threshold"`

	// Factor multiplies the base limit while CPU usage is at or above the threshold.
	Factor float64 `mapstructure:"factor" yaml:"factor" json:"factor"`
}

// Validate validates CPU-aware limiting configuration.
func (c *CPUAwareConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Factor <= 0 || c.Factor > 1 {
		return fmt.Errorf("cpu-aware factor should be in range (0, 1], got %v", c.Factor)
	}
	return nil
}

// Config represents a set of configuration parameters for the per-client rate limiter.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// Alg selects the rate-limiting algorithm.
	Alg string `mapstructure:"alg" yaml:"alg" json:"alg"`

	// Rate is the base limit: the number of requests allowed per window, e.g. "100/m".
	Rate config.RateLimitValue `mapstructure:"rate" yaml:"rate" json:"rate"`

	// BucketSize overrides the token bucket capacity. Zero means the effective limit is used.
	// Matters only for the "token_bucket" algorithm.
	BucketSize int `mapstructure:"bucketSize" yaml:"bucketSize" json:"bucketSize"`

	// TokensPerSecond overrides the token refill rate. Zero means effectiveLimit/windowSeconds.
	// Matters only for the "token_bucket" algorithm.
	TokensPerSecond float64 `mapstructure:"tokensPerSecond" yaml:"tokensPerSecond" json:"tokensPerSecond"`

	// BurstLimit is the additional burst allowed on top of the rate.
	// Matters only for the "leaky_bucket" algorithm.
	BurstLimit int `mapstructure:"burstLimit" yaml:"burstLimit" json:"burstLimit"`

	// MaxKeys bounds the number of keys tracked by the "leaky_bucket" algorithm's store.
	// The windowed algorithms bound memory with the TTL sweep instead.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`

	// SweepInterval is the period of the background sweep that removes idle client entries.
	SweepInterval config.TimeDuration `mapstructure:"sweepInterval" yaml:"sweepInterval" json:"sweepInterval"`

	// IdleGrace is added to the window when deciding whether a client entry is stale.
	// Zero means one full window.
	IdleGrace config.TimeDuration `mapstructure:"idleGrace" yaml:"idleGrace" json:"idleGrace"`

	// CPUAware tightens the effective limit when the resource sampler reports high CPU usage.
	CPUAware CPUAwareConfig `mapstructure:"cpuAware" yaml:"cpuAware" json:"cpuAware"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix:     opts.keyPrefix,
		Alg:           AlgFixedWindow,
		Rate:          config.RateLimitValue{Count: DefaultRateCount, Duration: DefaultRateDuration},
		MaxKeys:       DefaultMaxKeys,
		SweepInterval: config.TimeDuration(DefaultSweepInterval),
		CPUAware: CPUAwareConfig{
			Threshold: DefaultCPUAwareThreshold,
			Factor:    DefaultCPUAwareFactor,
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault("alg", AlgFixedWindow)
	dp.SetDefault("rate", config.RateLimitValue{Count: DefaultRateCount, Duration: DefaultRateDuration}.String())
	dp.SetDefault("maxKeys", DefaultMaxKeys)
	dp.SetDefault("sweepInterval", DefaultSweepInterval.String())
	dp.SetDefault("cpuAware.threshold", DefaultCPUAwareThreshold)
	dp.SetDefault("cpuAware.factor", DefaultCPUAwareFactor)
}

// Set sets rate limiting configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	if err := dp.Unmarshal(c, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = config.MapstructureDecodeHook()
	}); err != nil {
		return err
	}
	return c.Validate()
}

// Validate validates configuration.
func (c *Config) Validate() error {
	switch c.Alg {
	case "", AlgFixedWindow, AlgSlidingWindow, AlgTokenBucket, AlgLeakyBucket:
	default:
		return fmt.Errorf("unknown rate limit alg %q", c.Alg)
	}
	if c.Rate.Count < 1 {
		return fmt.Errorf("rate limit should be >= 1, got %d", c.Rate.Count)
	}
	if c.Rate.Duration <= 0 {
		return fmt.Errorf("rate limit window should be positive, got %s", c.Rate.Duration)
	}
	if c.BucketSize < 0 {
		return fmt.Errorf("bucket size should be >= 0, got %d", c.BucketSize)
	}
	if c.TokensPerSecond < 0 {
		return fmt.Errorf("tokens per second should be >= 0, got %v", c.TokensPerSecond)
	}
	if c.BurstLimit < 0 {
		return fmt.Errorf("burst limit should be >= 0, got %d", c.BurstLimit)
	}
	if c.MaxKeys < 0 {
		return fmt.Errorf("maximum keys should be >= 0, got %d", c.MaxKeys)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep interval should be >= 0, got %s", c.SweepInterval)
	}
	if c.IdleGrace < 0 {
		return fmt.Errorf("idle grace should be >= 0, got %s", c.IdleGrace)
	}
	if err := c.CPUAware.Validate(); err != nil {
		return err
	}
	if c.CPUAware.Enabled && c.Alg == AlgLeakyBucket {
		return fmt.Errorf("cpu-aware limiting is not supported for the %q algorithm: its quota is fixed at construction", AlgLeakyBucket)
	}
	return nil
}
