// Package config defines the service configuration and its TOML loader.
// Values come from a TOML file, then flags/env in cmd/ override them.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Classifier ClassifierConfig `toml:"classifier"`
	Blacklist  BlacklistConfig  `toml:"blacklist"`
	PriceFeed  PriceFeedConfig  `toml:"pricefeed"`
	Server     ServerConfig     `toml:"server"`
}

// PostgresConfig holds the story store connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the optional shared blacklist mirror parameters.
// Leave Addr empty to run without the mirror.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	// MirrorTTL bounds how long mirror entries outlive their pushes.
	MirrorTTL duration `toml:"mirror_ttl"`
}

// ClassifierConfig holds classification policy. Thresholds mirror the
// trading engine's configuration; they are consumed here, never invented.
type ClassifierConfig struct {
	SuccessThresholdROI float64  `toml:"success_threshold_roi"`
	DeclineMarginPct    float64  `toml:"decline_margin_pct"`
	ObservationWindow   duration `toml:"observation_window"`
	SweepInterval       duration `toml:"sweep_interval"`
}

// BlacklistConfig holds oracle cache policy.
type BlacklistConfig struct {
	// RebuildInterval is the documented staleness bound for entries that
	// miss the push path.
	RebuildInterval duration `toml:"rebuild_interval"`
}

// PriceFeedConfig holds the price sample source.
type PriceFeedConfig struct {
	WSEndpoint string `toml:"ws_endpoint"`
}

// ServerConfig holds HTTP listener parameters.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Postgres: PostgresConfig{RunMigrations: true},
		Classifier: ClassifierConfig{
			SuccessThresholdROI: 0.05,
			DeclineMarginPct:    0.10,
			ObservationWindow:   duration{15 * time.Minute},
			SweepInterval:       duration{time.Minute},
		},
		Blacklist: BlacklistConfig{
			RebuildInterval: duration{5 * time.Minute},
		},
		Redis: RedisConfig{
			MirrorTTL: duration{24 * time.Hour},
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads a TOML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c Config) Validate() error {
	if c.Classifier.SuccessThresholdROI <= 0 {
		return fmt.Errorf("config: classifier.success_threshold_roi must be positive")
	}
	if c.Classifier.DeclineMarginPct <= 0 || c.Classifier.DeclineMarginPct >= 1 {
		return fmt.Errorf("config: classifier.decline_margin_pct must be in (0, 1)")
	}
	if c.Classifier.ObservationWindow.Duration <= 0 {
		return fmt.Errorf("config: classifier.observation_window must be positive")
	}
	if c.Blacklist.RebuildInterval.Duration <= 0 {
		return fmt.Errorf("config: blacklist.rebuild_interval must be positive")
	}
	return nil
}

// duration wraps time.Duration for TOML text parsing ("5m", "1h30m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
