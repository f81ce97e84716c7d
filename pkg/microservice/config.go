package microservice

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/illmade-knight/go-agentmq/pkg/messagequeue"
)

// Config holds the queue service configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	HTTPPort string `yaml:"http_port"`

	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`

	// SweepInterval tunes the broker's expiry sweeper and accepts Go
	// duration syntax such as "10s".
	SweepInterval     string `yaml:"sweep_interval"`
	LatencyWindowSize int    `yaml:"latency_window_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:       "info",
		HTTPPort:       ":8080",
		ServiceName:    "message-queue",
		ServiceVersion: "1.0.0",
		SweepInterval:  "10s",
	}
}

// Load reads configuration from the given path. An empty or missing path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err = yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for any unset options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.HTTPPort == "" {
		c.HTTPPort = defaults.HTTPPort
	}
	if c.ServiceName == "" {
		c.ServiceName = defaults.ServiceName
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = defaults.ServiceVersion
	}
	if c.SweepInterval == "" {
		c.SweepInterval = defaults.SweepInterval
	}
}

// Validate checks that the parseable fields parse.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	if _, err := time.ParseDuration(c.SweepInterval); err != nil {
		return fmt.Errorf("parse sweep interval: %w", err)
	}
	if c.LatencyWindowSize < 0 {
		return errors.New("latency window size must not be negative")
	}
	return nil
}

// BrokerConfig converts the validated settings into broker tunables.
func (c *Config) BrokerConfig() (messagequeue.BrokerConfig, error) {
	interval, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return messagequeue.BrokerConfig{}, fmt.Errorf("parse sweep interval: %w", err)
	}
	return messagequeue.BrokerConfig{
		SweepInterval:     interval,
		LatencyWindowSize: c.LatencyWindowSize,
	}, nil
}
