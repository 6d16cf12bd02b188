/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package sampler

import (
	"fmt"
	"time"

	"github.com/acronis/go-loadguard/config"
)

const cfgDefaultKeyPrefix = "sampler"

// DefaultInterval is a default interval between two consecutive resource samples.
const DefaultInterval = time.Second

// Config represents a set of configuration parameters for the resource sampler.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// Interval is the period of the background sampling loop.
	Interval config.TimeDuration `mapstructure:"interval" yaml:"interval" json:"interval"`

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
		Interval:  config.TimeDuration(DefaultInterval),
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
	dp.SetDefault("interval", DefaultInterval.String())
}

// Set sets sampler configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	interval, err := dp.GetDuration("interval")
	if err != nil {
		return err
	}
	c.Interval = config.TimeDuration(interval)
	return c.Validate()
}

// Validate validates configuration.
func (c *Config) Validate() error {
	if c.Interval < 0 {
		return fmt.Errorf("sampling interval should be positive, got %s", c.Interval)
	}
	return nil
}
