/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/acronis/go-loadguard/config"
)

const cfgDefaultKeyPrefix = "throttle"

// Delay curve modes.
const (
	CurveLinear      = "linear"
	CurveExponential = "exponential"
)

// Default configuration values.
const (
	DefaultSoftLimit    = 60.0
	DefaultHardLimit    = 90.0
	DefaultMinDelay     = 100 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
	DefaultMemoryWeight = 0.3
)

// Config represents a set of configuration parameters for the graduated-throttle decision engine.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// SoftLimit is the usage percentage at which requests start to be delayed.
	SoftLimit config.Percent `mapstructure:"softLimit" yaml:"softLimit" json:"softLimit"`

	// HardLimit is the usage percentage at which requests are rejected outright.
	// Must be strictly greater than SoftLimit.
	HardLimit config.Percent `mapstructure:"hardLimit" yaml:"hardLimit" json:"hardLimit"`

	// MinDelay and MaxDelay bound the delay applied inside the [SoftLimit, HardLimit) band.
	MinDelay config.TimeDuration `mapstructure:"minDelay" yaml:"minDelay" json:"minDelay"`
	MaxDelay config.TimeDuration `mapstructure:"maxDelay" yaml:"maxDelay" json:"maxDelay"`

	// Curve selects how the delay grows across the band: "linear" or "exponential".
	Curve string `mapstructure:"curve" yaml:"curve" json:"curve"`

	// MemoryWeight is the weight of memory usage in the blended usage value:
	// usage = cpu*(1-w) + memory*w. Zero means CPU-only decisions.
	MemoryWeight float64 `mapstructure:"memoryWeight" yaml:"memoryWeight" json:"memoryWeight"`

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
		keyPrefix:    opts.keyPrefix,
		SoftLimit:    DefaultSoftLimit,
		HardLimit:    DefaultHardLimit,
		MinDelay:     config.TimeDuration(DefaultMinDelay),
		MaxDelay:     config.TimeDuration(DefaultMaxDelay),
		Curve:        CurveLinear,
		MemoryWeight: DefaultMemoryWeight,
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
	dp.SetDefault("softLimit", DefaultSoftLimit)
	dp.SetDefault("hardLimit", DefaultHardLimit)
	dp.SetDefault("minDelay", DefaultMinDelay.String())
	dp.SetDefault("maxDelay", DefaultMaxDelay.String())
	dp.SetDefault("curve", CurveLinear)
	dp.SetDefault("memoryWeight", DefaultMemoryWeight)
}

// Set sets throttling configuration values from config.DataProvider.
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
// Degenerate limit and delay combinations are rejected here, at construction time,
// instead of silently producing a broken delay curve per request.
func (c *Config) Validate() error {
	if c.HardLimit <= c.SoftLimit {
		return fmt.Errorf("hard limit should be greater than soft limit, got soft=%v, hard=%v",
			float64(c.SoftLimit), float64(c.HardLimit))
	}
	if c.MinDelay < 0 {
		return fmt.Errorf("min delay should be >= 0, got %s", c.MinDelay)
	}
	if c.MaxDelay < c.MinDelay {
		return fmt.Errorf("max delay should be >= min delay, got min=%s, max=%s", c.MinDelay, c.MaxDelay)
	}
	if c.Curve != "" && c.Curve != CurveLinear && c.Curve != CurveExponential {
		return fmt.Errorf("unknown delay curve %q", c.Curve)
	}
	if c.MemoryWeight < 0 || c.MemoryWeight > 1 {
		return fmt.Errorf("memory weight should be in range [0, 1], got %v", c.MemoryWeight)
	}
	return nil
}
