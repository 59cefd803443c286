/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand

import (
	"fmt"
	"time"

	"github.com/mecondev/oncutf-sub002/config"
)

const cfgDefaultKeyPrefix = "scheduler"

const (
	cfgKeyMaxConcurrent       = "maxConcurrent"
	cfgKeyPollInterval        = "pollInterval"
	cfgKeyQueueMaxSize        = "queue.maxSize"
	cfgKeyPrefetchRadius      = "prefetch.radius"
	cfgKeyPrefetchPriority    = "prefetch.priority"
	cfgKeyPrefetchHistorySize = "prefetch.historySize"
)

// Default values.
const (
	DefaultMaxConcurrent       = 2
	DefaultPollInterval        = time.Millisecond * 100
	DefaultQueueMaxSize        = 256
	DefaultPrefetchRadius      = 2
	DefaultPrefetchHistorySize = 10
)

// PrefetchConfig represents a set of configuration parameters for Prefetcher.
type PrefetchConfig struct {
	// Radius is the number of neighbors prefetched on each side of the focus.
	Radius int `mapstructure:"radius" yaml:"radius" json:"radius"`

	// Priority is the fixed priority of prefetch requests; lower value means more urgent.
	Priority int `mapstructure:"priority" yaml:"priority" json:"priority"`

	// HistorySize bounds the kept history of focus changes.
	HistorySize int `mapstructure:"historySize" yaml:"historySize" json:"historySize"`
}

// Validate checks prefetch configuration values.
func (c *PrefetchConfig) Validate() error {
	if c.Radius < 0 {
		return fmt.Errorf("prefetch radius must not be negative")
	}
	if c.Priority < PriorityHighest || c.Priority > PriorityLowest {
		return fmt.Errorf("prefetch priority must be in range [%d, %d]", PriorityHighest, PriorityLowest)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("prefetch history size must be positive")
	}
	return nil
}

// QueueConfig represents a set of configuration parameters for the request queue.
type QueueConfig struct {
	// MaxSize bounds the number of queued requests; admitting a request into a
	// full queue evicts the least urgent queued entry.
	MaxSize int `mapstructure:"maxSize" yaml:"maxSize" json:"maxSize"`
}

// Config represents a set of configuration parameters for Scheduler and Prefetcher.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// MaxConcurrent is the maximum number of loads in flight.
	MaxConcurrent int `mapstructure:"maxConcurrent" yaml:"maxConcurrent" json:"maxConcurrent"`

	// PollInterval is the dispatch loop tick interval.
	PollInterval config.TimeDuration `mapstructure:"pollInterval" yaml:"pollInterval" json:"pollInterval"`

	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue" json:"queue"`
	Prefetch PrefetchConfig `mapstructure:"prefetch" yaml:"prefetch" json:"prefetch"`

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
		MaxConcurrent: DefaultMaxConcurrent,
		PollInterval:  config.TimeDuration(DefaultPollInterval),
		Queue:         QueueConfig{MaxSize: DefaultQueueMaxSize},
		Prefetch: PrefetchConfig{
			Radius:      DefaultPrefetchRadius,
			Priority:    PriorityPrefetch,
			HistorySize: DefaultPrefetchHistorySize,
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

// SetProviderDefaults sets default configuration values for the scheduler in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxConcurrent, DefaultMaxConcurrent)
	dp.SetDefault(cfgKeyPollInterval, DefaultPollInterval)
	dp.SetDefault(cfgKeyQueueMaxSize, DefaultQueueMaxSize)
	dp.SetDefault(cfgKeyPrefetchRadius, DefaultPrefetchRadius)
	dp.SetDefault(cfgKeyPrefetchPriority, PriorityPrefetch)
	dp.SetDefault(cfgKeyPrefetchHistorySize, DefaultPrefetchHistorySize)
}

// Set sets scheduler configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.MaxConcurrent, err = dp.GetInt(cfgKeyMaxConcurrent); err != nil {
		return err
	}

	pollInterval, err := dp.GetDuration(cfgKeyPollInterval)
	if err != nil {
		return err
	}
	c.PollInterval = config.TimeDuration(pollInterval)

	if c.Queue.MaxSize, err = dp.GetInt(cfgKeyQueueMaxSize); err != nil {
		return err
	}
	if c.Prefetch.Radius, err = dp.GetInt(cfgKeyPrefetchRadius); err != nil {
		return err
	}
	if c.Prefetch.Priority, err = dp.GetInt(cfgKeyPrefetchPriority); err != nil {
		return err
	}
	if c.Prefetch.HistorySize, err = dp.GetInt(cfgKeyPrefetchHistorySize); err != nil {
		return err
	}

	return c.Validate()
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("maxConcurrent must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("pollInterval must be positive")
	}
	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue maxSize must be positive")
	}
	return c.Prefetch.Validate()
}
