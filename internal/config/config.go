// Package config loads the server's on-disk configuration (YAML).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"microgrid_simulator/internal/tariff"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	FrontendDir string `yaml:"frontend_dir"`

	Simulator SimulatorConfig `yaml:"simulator"`
	Session   SessionConfig   `yaml:"session"`
	Tariff    tariff.Rates    `yaml:"tariff"`
}

// SimulatorConfig points at the external batch simulation engine.
type SimulatorConfig struct {
	URL          string `yaml:"url"`
	TimeoutS     int    `yaml:"timeout_s"`
	ForecastFile string `yaml:"forecast_file"`
}

// SessionConfig tunes the orchestration loop.
type SessionConfig struct {
	BatchDurationS   int    `yaml:"batch_duration_s"`
	BasePointDelayMS int    `yaml:"base_point_delay_ms"`
	ThrottleMS       int    `yaml:"throttle_ms"`
	StartDatetime    string `yaml:"start_datetime"` // "2006-01-02 15:04:05"
	AutoStart        bool   `yaml:"auto_start"`
}

// Default returns the built-in configuration, used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr:  ":8080",
		FrontendDir: "./frontend/dist",
		Simulator: SimulatorConfig{
			URL:      "http://localhost:5001",
			TimeoutS: 120,
		},
		Session: SessionConfig{
			BatchDurationS:   50,
			BasePointDelayMS: 1000,
			ThrottleMS:       100,
			StartDatetime:    "2020-01-01 00:00:00",
			AutoStart:        true,
		},
		Tariff: tariff.Rates{
			Peak:     tariff.Window{StartHour: 8, EndHour: 22},
			PeakRate: 0.30,
			OffPeak:  0.10,
			Currency: "USD",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if c.Simulator.URL == "" {
		return fmt.Errorf("config: simulator.url is required")
	}
	if c.Session.BatchDurationS <= 0 {
		return fmt.Errorf("config: session.batch_duration_s must be positive")
	}
	if c.Session.BasePointDelayMS <= 0 {
		return fmt.Errorf("config: session.base_point_delay_ms must be positive")
	}
	if c.Session.StartDatetime != "" {
		if _, err := time.Parse("2006-01-02 15:04:05", c.Session.StartDatetime); err != nil {
			return fmt.Errorf("config: session.start_datetime: %w", err)
		}
	}
	if c.Tariff.Peak.StartHour < 0 || c.Tariff.Peak.EndHour > 24 ||
		c.Tariff.Peak.StartHour >= c.Tariff.Peak.EndHour {
		return fmt.Errorf("config: tariff.peak window [%d,%d) invalid",
			c.Tariff.Peak.StartHour, c.Tariff.Peak.EndHour)
	}
	if c.Tariff.PeakRate < 0 || c.Tariff.OffPeak < 0 {
		return fmt.Errorf("config: tariff rates must be non-negative")
	}
	return nil
}

// StartTime parses the configured session start datetime.
func (c *Config) StartTime() time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", c.Session.StartDatetime)
	if err != nil {
		return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// SimulatorTimeout returns the per-invocation timeout as a duration.
func (c *Config) SimulatorTimeout() time.Duration {
	return time.Duration(c.Simulator.TimeoutS) * time.Second
}

// BasePointDelay returns the 1.0x pacing delay as a duration.
func (c *Config) BasePointDelay() time.Duration {
	return time.Duration(c.Session.BasePointDelayMS) * time.Millisecond
}

// Throttle returns the snapshot throttle as a duration.
func (c *Config) Throttle() time.Duration {
	return time.Duration(c.Session.ThrottleMS) * time.Millisecond
}
