// Package config loads and validates pricefeed configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Topology names.
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

// Config is the root configuration object.
type Config struct {
	Mode       string           `mapstructure:"mode"`
	OnlyTarget string           `mapstructure:"only_target"`
	Store      StoreConfig      `mapstructure:"store"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Sequential SequentialConfig `mapstructure:"sequential"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Snapshots  SnapshotConfig   `mapstructure:"snapshots"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Targets    []TargetConfig   `mapstructure:"targets"`
}

// StoreConfig selects and configures the shared key-value store.
type StoreConfig struct {
	Backend           string         `mapstructure:"backend"`
	Namespace         string         `mapstructure:"namespace"`
	ConnectRetryDelay time.Duration  `mapstructure:"connect_retry_delay"`
	ConnectAttempts   int            `mapstructure:"connect_attempts"`
	Redis             RedisConfig    `mapstructure:"redis"`
	Postgres          PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// BrowserConfig configures the headless browser driver.
type BrowserConfig struct {
	Driver            string        `mapstructure:"driver"`
	ExecPath          string        `mapstructure:"exec_path"`
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	BlockResources    bool          `mapstructure:"block_resources"`
	ExtraFlags        []string      `mapstructure:"extra_flags"`
	// Stealth masks automation fingerprints. Only the rod driver honors it.
	Stealth bool   `mapstructure:"stealth"`
	Locale  string `mapstructure:"locale"`
}

// WorkerConfig tunes the per-target control loop.
type WorkerConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	RebuildThreshold int           `mapstructure:"rebuild_threshold"`
	HealthTimeout    time.Duration `mapstructure:"health_timeout"`
	InPlaceSettle    time.Duration `mapstructure:"in_place_settle"`
	PrimaryTimeout   time.Duration `mapstructure:"primary_timeout"`
	FallbackTimeout  time.Duration `mapstructure:"fallback_timeout"`
}

// SequentialConfig tunes the round-robin topology.
type SequentialConfig struct {
	RestartRounds int           `mapstructure:"restart_rounds"`
	TargetGap     time.Duration `mapstructure:"target_gap"`
	RoundInterval time.Duration `mapstructure:"round_interval"`
}

// RateLimitConfig bounds navigations per host.
type RateLimitConfig struct {
	PerHostRPS float64 `mapstructure:"per_host_rps"`
	Burst      int     `mapstructure:"burst"`
}

// SnapshotConfig controls diagnostic HTML capture.
type SnapshotConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig controls publication fan-out.
type NotifyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TargetConfig overrides or adds one registry entry. Zero fields keep the
// built-in value when Key matches a default target.
type TargetConfig struct {
	Key     string           `mapstructure:"key"`
	Name    string           `mapstructure:"name"`
	URL     string           `mapstructure:"url"`
	Source  string           `mapstructure:"source"`
	Kind    string           `mapstructure:"kind"`
	Unit    string           `mapstructure:"unit"`
	Min     *float64         `mapstructure:"min"`
	Max     *float64         `mapstructure:"max"`
	Settle  time.Duration    `mapstructure:"settle"`
	Refresh string           `mapstructure:"refresh"`
	Cascade []StrategyConfig `mapstructure:"cascade"`
}

// StrategyConfig is one cascade step.
type StrategyConfig struct {
	Type      string        `mapstructure:"type"`
	Query     string        `mapstructure:"query"`
	Heuristic string        `mapstructure:"heuristic"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// DefaultUserAgent is the spoofed desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Load reads configuration from path (optional), PRICEFEED_* environment
// variables and defaults, then validates it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEFEED")
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
	v.SetDefault("mode", ModeParallel)
	v.SetDefault("only_target", "")
	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.namespace", "price")
	v.SetDefault("store.connect_retry_delay", 2*time.Second)
	v.SetDefault("store.connect_attempts", 0)
	v.SetDefault("store.redis.url", "redis://localhost:6379/0")
	v.SetDefault("store.redis.dial_timeout", 5*time.Second)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table", "latest_prices")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)
	v.SetDefault("browser.block_resources", true)
	v.SetDefault("browser.extra_flags", []string{})
	v.SetDefault("browser.stealth", false)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("worker.interval", 3*time.Second)
	v.SetDefault("worker.base_delay", 5*time.Second)
	v.SetDefault("worker.max_backoff", 60*time.Second)
	v.SetDefault("worker.rebuild_threshold", 5)
	v.SetDefault("worker.health_timeout", 300*time.Second)
	v.SetDefault("worker.in_place_settle", time.Second)
	v.SetDefault("worker.primary_timeout", 15*time.Second)
	v.SetDefault("worker.fallback_timeout", 5*time.Second)
	v.SetDefault("sequential.restart_rounds", 10)
	v.SetDefault("sequential.target_gap", 2*time.Second)
	v.SetDefault("sequential.round_interval", 3*time.Second)
	v.SetDefault("ratelimit.per_host_rps", 1.0)
	v.SetDefault("ratelimit.burst", 2)
	v.SetDefault("snapshots.enabled", false)
	v.SetDefault("snapshots.backend", "local")
	v.SetDefault("snapshots.local_dir", "snapshots")
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.backend", "pubsub")
	v.SetDefault("notify.topic", "price-updates")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate performs basic sanity checks on the configuration.
//
//nolint:gocyclo // flat list of independent checks
func (c Config) Validate() error {
	switch c.Mode {
	case ModeParallel, ModeSequential:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeParallel, ModeSequential, c.Mode)
	}
	if strings.TrimSpace(c.Store.Namespace) == "" {
		return fmt.Errorf("store.namespace must be set")
	}
	switch c.Store.Backend {
	case "redis":
		if c.Store.Redis.URL == "" {
			return fmt.Errorf("store.redis.url must be set for the redis backend")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.Store.ConnectRetryDelay <= 0 {
		return fmt.Errorf("store.connect_retry_delay must be > 0")
	}
	switch c.Browser.Driver {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("unknown browser.driver %q", c.Browser.Driver)
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be > 0")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must be positive")
	}
	if err := c.Worker.validate(); err != nil {
		return err
	}
	if c.Sequential.RestartRounds < 1 {
		return fmt.Errorf("sequential.restart_rounds must be >= 1")
	}
	if c.Sequential.TargetGap < 0 || c.Sequential.RoundInterval <= 0 {
		return fmt.Errorf("sequential timings must be positive")
	}
	if c.Snapshots.Enabled {
		switch c.Snapshots.Backend {
		case "local":
			if c.Snapshots.LocalDir == "" {
				return fmt.Errorf("snapshots.local_dir must be set for the local backend")
			}
		case "gcs":
			if c.Snapshots.GCSBucket == "" {
				return fmt.Errorf("snapshots.gcs_bucket must be set for the gcs backend")
			}
		case "memory":
		default:
			return fmt.Errorf("unknown snapshots.backend %q", c.Snapshots.Backend)
		}
	}
	if c.Notify.Enabled {
		switch c.Notify.Backend {
		case "pubsub":
			if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
				return fmt.Errorf("notify.project_id and notify.topic must be set for pubsub")
			}
		case "memory":
		default:
			return fmt.Errorf("unknown notify.backend %q", c.Notify.Backend)
		}
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the server is enabled")
	}
	return nil
}

func (w WorkerConfig) validate() error {
	if w.Interval <= 0 {
		return fmt.Errorf("worker.interval must be > 0")
	}
	if w.BaseDelay <= 0 {
		return fmt.Errorf("worker.base_delay must be > 0")
	}
	if w.MaxBackoff < w.BaseDelay {
		return fmt.Errorf("worker.max_backoff must be >= worker.base_delay")
	}
	if w.RebuildThreshold < 1 {
		return fmt.Errorf("worker.rebuild_threshold must be >= 1")
	}
	if w.HealthTimeout <= 0 {
		return fmt.Errorf("worker.health_timeout must be > 0")
	}
	if w.PrimaryTimeout <= 0 || w.FallbackTimeout <= 0 {
		return fmt.Errorf("worker extraction timeouts must be > 0")
	}
	return nil
}
