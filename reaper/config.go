/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package reaper

import (
	"fmt"
	"time"

	"github.com/mecondev/oncutf-sub002/config"
)

const cfgDefaultKeyPrefix = "reaper"

const (
	cfgKeyPeriod         = "period"
	cfgKeyMaxAge         = "maxAge"
	cfgKeyMinAccessCount = "minAccessCount"
	cfgKeyParallelism    = "parallelism"
	cfgKeyReleaseMemory  = "releaseMemory"
)

// Default values.
const (
	DefaultPeriod         = time.Second * 120
	DefaultMaxAge         = time.Hour
	DefaultMinAccessCount = 2
	DefaultParallelism    = 4
)

// Config represents a set of configuration parameters for Reaper.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// Period is the interval between periodic sweeps.
	Period config.TimeDuration `mapstructure:"period" yaml:"period" json:"period"`

	// MaxAge is the minimum time since the last access for an entry to be considered stale.
	MaxAge config.TimeDuration `mapstructure:"maxAge" yaml:"maxAge" json:"maxAge"`

	// MinAccessCount is the access count an entry must reach to survive staleness sweeps.
	MinAccessCount uint64 `mapstructure:"minAccessCount" yaml:"minAccessCount" json:"minAccessCount"`

	// Parallelism bounds how many caches are swept concurrently.
	Parallelism int `mapstructure:"parallelism" yaml:"parallelism" json:"parallelism"`

	// ReleaseMemory makes ForceCleanup hint the runtime to return freed memory to the OS.
	ReleaseMemory bool `mapstructure:"releaseMemory" yaml:"releaseMemory" json:"releaseMemory"`

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
		keyPrefix:      opts.keyPrefix,
		Period:         config.TimeDuration(DefaultPeriod),
		MaxAge:         config.TimeDuration(DefaultMaxAge),
		MinAccessCount: DefaultMinAccessCount,
		Parallelism:    DefaultParallelism,
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

// SetProviderDefaults sets default configuration values for the reaper in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyPeriod, DefaultPeriod)
	dp.SetDefault(cfgKeyMaxAge, DefaultMaxAge)
	dp.SetDefault(cfgKeyMinAccessCount, DefaultMinAccessCount)
	dp.SetDefault(cfgKeyParallelism, DefaultParallelism)
	dp.SetDefault(cfgKeyReleaseMemory, false)
}

// Set sets reaper configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	period, err := dp.GetDuration(cfgKeyPeriod)
	if err != nil {
		return err
	}
	c.Period = config.TimeDuration(period)

	maxAge, err := dp.GetDuration(cfgKeyMaxAge)
	if err != nil {
		return err
	}
	c.MaxAge = config.TimeDuration(maxAge)

	minAccessCount, err := dp.GetInt(cfgKeyMinAccessCount)
	if err != nil {
		return err
	}
	if minAccessCount < 0 {
		return dp.WrapKeyErr(cfgKeyMinAccessCount, fmt.Errorf("must not be negative"))
	}
	c.MinAccessCount = uint64(minAccessCount)

	if c.Parallelism, err = dp.GetInt(cfgKeyParallelism); err != nil {
		return err
	}
	if c.ReleaseMemory, err = dp.GetBool(cfgKeyReleaseMemory); err != nil {
		return err
	}

	return c.Validate()
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("period must be positive")
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("maxAge must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	return nil
}
