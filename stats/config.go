/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package stats

import (
	"fmt"

	"github.com/acronis/go-loadguard/config"
)

const cfgDefaultKeyPrefix = "stats"

// DefaultHistoryCapacity is the default number of points kept in each history buffer.
const DefaultHistoryCapacity = 60

// Config represents a set of configuration parameters for the stats aggregator.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// HistoryCapacity is the number of points kept in each of the CPU and memory
	// history buffers. The oldest point is evicted on overflow.
	HistoryCapacity int `mapstructure:"historyCapacity" yaml:"historyCapacity" json:"historyCapacity"`

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
		keyPrefix:       opts.keyPrefix,
		HistoryCapacity: DefaultHistoryCapacity,
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
	dp.SetDefault("historyCapacity", DefaultHistoryCapacity)
}

// Set sets stats aggregator configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.HistoryCapacity, err = dp.GetInt("historyCapacity"); err != nil {
		return err
	}
	return c.Validate()
}

// Validate validates configuration.
func (c *Config) Validate() error {
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("history capacity should be >= 1, got %d", c.HistoryCapacity)
	}
	return nil
}
