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
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Browser BrowserConfig `mapstructure:"browser"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Search  SearchConfig  `mapstructure:"search"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Crunch  CrunchConfig  `mapstructure:"crunch"`
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

// BrowserConfig governs the headless browser pool and snapshot pipeline.
type BrowserConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	NavTimeoutSec  int     `mapstructure:"nav_timeout_seconds"`
	MaxContexts    int     `mapstructure:"max_contexts"`
	DomainQPS      float64 `mapstructure:"domain_qps"`
	ViewportWidth  int     `mapstructure:"viewport_width"`
	ViewportHeight int     `mapstructure:"viewport_height"`
}

// LLMConfig configures the upstream chat-completion provider.
type LLMConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	DefaultModel string `mapstructure:"default_model"`
	MaxTurns     int    `mapstructure:"max_turns"`
	WindowSize   int    `mapstructure:"window_size"`
}

// SearchConfig configures the web search backend for the searchWeb tool.
type SearchConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Count    int    `mapstructure:"count"`
}

// StorageConfig sets the object store backing snapshots and archives.
type StorageConfig struct {
	Provider       string `mapstructure:"provider"`
	GCSBucket      string `mapstructure:"gcs_bucket"`
	LocalDir       string `mapstructure:"local_dir"`
	SnapshotPrefix string `mapstructure:"snapshot_prefix"`
}

// DBConfig controls access to the crawled-record index.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CrunchConfig controls the nightly archive batch.
type CrunchConfig struct {
	Prefix      string `mapstructure:"prefix"`
	Rev         int    `mapstructure:"rev"`
	TMinusDays  int    `mapstructure:"t_minus_days"`
	BatchSize   int    `mapstructure:"batch_size"`
	MaxInFlight int    `mapstructure:"max_in_flight"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LECTERN")
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
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.max_contexts", 0) // 0 = derive from free memory
	v.SetDefault("browser.domain_qps", 0)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.default_model", "gpt-3.5-turbo")
	v.SetDefault("llm.max_turns", 5)
	v.SetDefault("llm.window_size", 16384)
	v.SetDefault("search.count", 5)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "data/blobs")
	v.SetDefault("storage.snapshot_prefix", "snapshots")
	v.SetDefault("crunch.prefix", "crawled")
	v.SetDefault("crunch.rev", 2)
	v.SetDefault("crunch.t_minus_days", 31)
	v.SetDefault("crunch.batch_size", 10000)
	v.SetDefault("crunch.max_in_flight", 100)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.MaxContexts < 0 {
		return fmt.Errorf("browser.max_contexts must be >= 0")
	}
	if c.LLM.MaxTurns < 0 || c.LLM.MaxTurns > 50 {
		return fmt.Errorf("llm.max_turns must be within 0..50")
	}
	if c.Crunch.BatchSize <= 0 {
		return fmt.Errorf("crunch.batch_size must be > 0")
	}
	if c.Crunch.TMinusDays <= 0 {
		return fmt.Errorf("crunch.t_minus_days must be > 0")
	}
	if c.Crunch.MaxInFlight <= 0 {
		return fmt.Errorf("crunch.max_in_flight must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
	}
	return nil
}

// NavTimeout converts the configured navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}
