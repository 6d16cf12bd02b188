/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/acronis/go-loadguard/config"
	"github.com/acronis/go-loadguard/ratelimit"
	"github.com/acronis/go-loadguard/sampler"
	"github.com/acronis/go-loadguard/stats"
	"github.com/acronis/go-loadguard/throttle"
)

const cfgDefaultKeyPrefix = "loadGuard"

// DefaultCPULimit is the default hard CPU admission limit in percent.
// It is a separate threshold from the graduated throttle limits: once CPU
// usage reaches it, requests are rejected outright regardless of the blend.
const DefaultCPULimit = 80.0

// Config represents a set of configuration parameters for the admission guard
// and all of its components. Configuration can be loaded in different formats
// (YAML, JSON) using config.Loader, viper, or with json.Unmarshal/yaml.Unmarshal
// functions directly.
type Config struct {
	// CPULimit is the hard CPU admission limit in percent.
	CPULimit config.Percent `mapstructure:"cpuLimit" yaml:"cpuLimit" json:"cpuLimit"`

	// DryRun makes the guard log would-be rejections and delays and serve
	// the request anyway. Useful for tuning limits on production traffic.
	DryRun bool `mapstructure:"dryRun" yaml:"dryRun" json:"dryRun"`

	// ExcludedPaths lists glob patterns of URL paths exempt from all admission
	// checks (health endpoints and the like). Requests to them are still counted.
	ExcludedPaths []string `mapstructure:"excludedPaths" yaml:"excludedPaths" json:"excludedPaths"`

	// ClientKeyHeader names the request header whose value identifies the client
	// for rate limiting. Empty means the remote address is used. Requests missing
	// the header bypass rate limiting.
	ClientKeyHeader string `mapstructure:"clientKeyHeader" yaml:"clientKeyHeader" json:"clientKeyHeader"`

	Sampler   sampler.Config   `mapstructure:"sampler" yaml:"sampler" json:"sampler"`
	Throttle  throttle.Config  `mapstructure:"throttle" yaml:"throttle" json:"throttle"`
	RateLimit ratelimit.Config `mapstructure:"rateLimit" yaml:"rateLimit" json:"rateLimit"`
	Stats     stats.Config     `mapstructure:"stats" yaml:"stats" json:"stats"`

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
		keyPrefix: opts.keyPrefix,
		CPULimit:  DefaultCPULimit,
		Sampler:   *sampler.NewDefaultConfig(),
		Throttle:  *throttle.NewDefaultConfig(),
		RateLimit: *ratelimit.NewDefaultConfig(),
		Stats:     *stats.NewDefaultConfig(),
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
	dp.SetDefault("cpuLimit", DefaultCPULimit)
	c.Sampler.SetProviderDefaults(config.NewKeyPrefixedDataProvider(dp, "sampler"))
	c.Throttle.SetProviderDefaults(config.NewKeyPrefixedDataProvider(dp, "throttle"))
	c.RateLimit.SetProviderDefaults(config.NewKeyPrefixedDataProvider(dp, "rateLimit"))
	c.Stats.SetProviderDefaults(config.NewKeyPrefixedDataProvider(dp, "stats"))
}

// Set sets admission guard configuration values from config.DataProvider.
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
	if c.CPULimit <= 0 || c.CPULimit > 100 {
		return fmt.Errorf("cpu limit should be in range (0, 100], got %v", float64(c.CPULimit))
	}
	if err := c.Sampler.Validate(); err != nil {
		return err
	}
	if err := c.Throttle.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	return c.Stats.Validate()
}
