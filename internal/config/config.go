// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	API     APIConfig     `mapstructure:"api"`
	DB      DBConfig      `mapstructure:"db"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs the crawl pipeline: grid granularity, paging,
// batching, and the geographic bounds of a run.
type ScraperConfig struct {
	GridSize           float64 `mapstructure:"grid_size"`
	PagesPerCell       int     `mapstructure:"pages_per_cell"`
	PageSize           int     `mapstructure:"page_size"`
	BatchSize          int     `mapstructure:"batch_size"`
	SaveInterval       int     `mapstructure:"save_interval"`
	PagePauseMs        int     `mapstructure:"page_pause_ms"`
	BatchPauseMs       int     `mapstructure:"batch_pause_ms"`
	RunIntervalMinutes int     `mapstructure:"run_interval_minutes"`

	BoundsNorth float64 `mapstructure:"bounds_north"`
	BoundsSouth float64 `mapstructure:"bounds_south"`
	BoundsEast  float64 `mapstructure:"bounds_east"`
	BoundsWest  float64 `mapstructure:"bounds_west"`
}

// APIConfig configures the upstream location search client.
type APIConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	Concurrency       int    `mapstructure:"concurrency"`
	RequestsPerSecond int    `mapstructure:"requests_per_second"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	DetailMaxAttempts int    `mapstructure:"detail_max_attempts"`
	BackoffMinSeconds int    `mapstructure:"backoff_min_seconds"`
	BackoffMaxSeconds int    `mapstructure:"backoff_max_seconds"`
	CooldownSeconds   int    `mapstructure:"cooldown_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects the blob backend used for run report archival.
type StorageConfig struct {
	// Provider is one of "gcs", "local", or "none".
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("scraper.grid_size", 1.0)
	v.SetDefault("scraper.pages_per_cell", 2)
	v.SetDefault("scraper.page_size", 30)
	v.SetDefault("scraper.batch_size", 20)
	v.SetDefault("scraper.save_interval", 100)
	v.SetDefault("scraper.page_pause_ms", 200)
	v.SetDefault("scraper.batch_pause_ms", 1000)
	v.SetDefault("scraper.run_interval_minutes", 0)
	// Continental US.
	v.SetDefault("scraper.bounds_north", 49.5)
	v.SetDefault("scraper.bounds_south", 24.5)
	v.SetDefault("scraper.bounds_east", -66.0)
	v.SetDefault("scraper.bounds_west", -125.0)
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("api.concurrency", 3)
	v.SetDefault("api.requests_per_second", 5)
	v.SetDefault("api.max_attempts", 5)
	v.SetDefault("api.detail_max_attempts", 3)
	v.SetDefault("api.backoff_min_seconds", 2)
	v.SetDefault("api.backoff_max_seconds", 60)
	v.SetDefault("api.cooldown_seconds", 10)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("storage.provider", "none")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.GridSize <= 0 {
		return fmt.Errorf("scraper.grid_size must be > 0")
	}
	if c.Scraper.BoundsNorth <= c.Scraper.BoundsSouth {
		return fmt.Errorf("scraper.bounds_north must be greater than scraper.bounds_south")
	}
	if c.Scraper.BoundsEast <= c.Scraper.BoundsWest {
		return fmt.Errorf("scraper.bounds_east must be greater than scraper.bounds_west")
	}
	if c.API.Concurrency <= 0 {
		return fmt.Errorf("api.concurrency must be > 0")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Provider {
	case "", "none", "local", "gcs":
	default:
		return fmt.Errorf("storage.provider must be one of none, local, gcs")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when provider is gcs")
	}
	if c.Storage.Provider == "local" && c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir must be set when provider is local")
	}
	return nil
}

// APITimeout converts the client timeout config into a duration.
func (c Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// RunInterval returns the scheduler period, or zero when scheduled runs
// are disabled.
func (c Config) RunInterval() time.Duration {
	return time.Duration(c.Scraper.RunIntervalMinutes) * time.Minute
}
