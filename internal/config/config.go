// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs orchestrator and worker pool behavior.
type CrawlerConfig struct {
	IntervalMinutes     int `mapstructure:"interval_minutes"`
	Concurrency         int `mapstructure:"concurrency"`
	MaxRetries          int `mapstructure:"max_retries"`
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`
	RetentionDays       int `mapstructure:"retention_days"`
	StartupDelaySeconds int `mapstructure:"startup_delay_seconds"`
}

// Interval returns the crawl period.
func (c CrawlerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// FetchTimeout returns the per-attempt fetch deadline.
func (c CrawlerConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// Retention returns how long snapshots are kept before pruning.
func (c CrawlerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// StartupDelay returns the wait before the first asynchronous cycle.
func (c CrawlerConfig) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelaySeconds) * time.Second
}

// ProbeConfig configures the lightweight HTTP probe fetcher.
type ProbeConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the probe request deadline.
func (c ProbeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HeadlessConfig configures the headless browser fetcher.
type HeadlessConfig struct {
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	UserAgent         string `mapstructure:"user_agent"`
}

// NavTimeout returns the navigation deadline.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSeconds) * time.Second
}

// StorageConfig selects and parameterizes the snapshot store driver.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// CacheConfig sets per-operation result cache TTLs.
type CacheConfig struct {
	CurrentTTLSeconds int `mapstructure:"current_ttl_seconds"`
	HistoryTTLSeconds int `mapstructure:"history_ttl_seconds"`
	RollupTTLSeconds  int `mapstructure:"rollup_ttl_seconds"`
}

// CurrentTTL returns the cache TTL for current-status queries.
func (c CacheConfig) CurrentTTL() time.Duration {
	return time.Duration(c.CurrentTTLSeconds) * time.Second
}

// HistoryTTL returns the cache TTL for history queries.
func (c CacheConfig) HistoryTTL() time.Duration {
	return time.Duration(c.HistoryTTLSeconds) * time.Second
}

// RollupTTL returns the cache TTL for rollup and ranking queries.
func (c CacheConfig) RollupTTL() time.Duration {
	return time.Duration(c.RollupTTLSeconds) * time.Second
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STAFFWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.interval_minutes", 60)
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.fetch_timeout_seconds", 20)
	v.SetDefault("crawler.retention_days", 730)
	v.SetDefault("crawler.startup_delay_seconds", 5)
	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.user_agent", "staffwatch/0.1")
	v.SetDefault("probe.timeout_seconds", 10)
	v.SetDefault("headless.max_parallel", 8)
	v.SetDefault("headless.nav_timeout_seconds", 20)
	v.SetDefault("headless.user_agent", "")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "staffwatch.db")
	v.SetDefault("cache.current_ttl_seconds", 60)
	v.SetDefault("cache.history_ttl_seconds", 300)
	v.SetDefault("cache.rollup_ttl_seconds", 600)
	v.SetDefault("logging.development", false)
}

// Validate enforces invariants the pipeline depends on.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be positive")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must not be negative")
	}
	if c.Crawler.FetchTimeoutSeconds < 15 {
		return fmt.Errorf("crawler.fetch_timeout_seconds must be at least 15")
	}
	if c.Crawler.IntervalMinutes <= 0 {
		return fmt.Errorf("crawler.interval_minutes must be positive")
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.driver is 'sqlite' but storage.path is not set")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.driver is 'postgres' but storage.dsn is not set")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}
	if c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be positive")
	}
	return nil
}
