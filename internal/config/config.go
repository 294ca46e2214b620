// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Tracking TrackingConfig `yaml:"tracking"`
	Notifier NotifierConfig `yaml:"notifier"`
	Summary  SummaryConfig  `yaml:"summary"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type TrackingConfig struct {
	DeviationThresholdM float64 `yaml:"deviation_threshold_m"`
	PeriodicIntervalSec int     `yaml:"periodic_interval_seconds"`
	StopPingThreshold   int     `yaml:"stop_ping_threshold"` // consecutive non-moving pings; 0 disables STOP alerts
	PingRetentionDays   int     `yaml:"ping_retention_days"` // 0 disables the retention sweep
}

type NotifierConfig struct {
	GatewayURL string  `yaml:"gateway_url"`
	Secret     string  `yaml:"secret"`
	TimeoutSec int     `yaml:"timeout_seconds"`
	RatePerSec float64 `yaml:"rate_per_second"`
	Burst      int     `yaml:"burst"`
}

type SummaryConfig struct {
	Timezone string `yaml:"timezone"`
}

// Load reads the YAML file at path when it exists and then applies
// environment overrides. A missing file is not an error; env-only
// deployments are the common case.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("NOTIFY_GATEWAY_URL"); v != "" {
		c.Notifier.GatewayURL = v
	}
	if v := os.Getenv("NOTIFY_SECRET"); v != "" {
		c.Notifier.Secret = v
	}
	if v := os.Getenv("SUMMARY_TZ"); v != "" {
		c.Summary.Timezone = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Tracking.DeviationThresholdM <= 0 {
		c.Tracking.DeviationThresholdM = 50
	}
	if c.Tracking.PeriodicIntervalSec <= 0 {
		c.Tracking.PeriodicIntervalSec = 300
	}
	if c.Notifier.TimeoutSec <= 0 {
		c.Notifier.TimeoutSec = 5
	}
	if c.Notifier.RatePerSec <= 0 {
		c.Notifier.RatePerSec = 20
	}
	if c.Notifier.Burst <= 0 {
		c.Notifier.Burst = 5
	}
}

// PeriodicInterval returns the throttle window as a duration.
func (c *Config) PeriodicInterval() time.Duration {
	return time.Duration(c.Tracking.PeriodicIntervalSec) * time.Second
}

// SummaryLocation resolves the configured timezone, falling back to local.
func (c *Config) SummaryLocation() *time.Location {
	if c.Summary.Timezone != "" {
		if loc, err := time.LoadLocation(c.Summary.Timezone); err == nil {
			return loc
		}
	}
	return time.Local
}
