// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pagelift/monetizer/internal/monetize"
	"github.com/pagelift/monetizer/internal/storage/postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Auth     AuthConfig              `mapstructure:"auth"`
	CMS      monetize.CMSConfig      `mapstructure:"cms"`
	AI       AIConfig                `mapstructure:"ai"`
	Pipeline PipelineConfig          `mapstructure:"pipeline"`
	Cache    CacheConfig             `mapstructure:"cache"`
	Relay    RelayConfig             `mapstructure:"relay"`
	Headless HeadlessConfig          `mapstructure:"headless"`
	Archive  ArchiveConfig           `mapstructure:"archive"`
	DB       postgres.RunStoreConfig `mapstructure:"db"`
	PubSub   PubSubConfig            `mapstructure:"pubsub"`
	Logging  LoggingConfig           `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AIConfig selects and credentials the extraction backend.
type AIConfig struct {
	Provider        string `mapstructure:"provider"`
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	BaseURL         string `mapstructure:"base_url"`
	GroundingSearch bool   `mapstructure:"grounding_search"`
	ContextLen      int    `mapstructure:"context_len"`
}

// PipelineConfig governs batch processing behavior.
type PipelineConfig struct {
	Concurrency          int    `mapstructure:"concurrency"`
	WindowPauseSeconds   int    `mapstructure:"window_pause_seconds"`
	Autonomous           bool   `mapstructure:"autonomous"`
	AutoPublishThreshold int    `mapstructure:"auto_publish_threshold"`
	Strategy             string `mapstructure:"strategy"`
	AffiliateTag         string `mapstructure:"affiliate_tag"`
	FallbackImage        string `mapstructure:"fallback_image"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	// Backend is "memory" or "file".
	Backend    string `mapstructure:"backend"`
	Dir        string `mapstructure:"dir"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// RelayConfig lists the fetch relays, tried in order.
type RelayConfig struct {
	Endpoints      []string `mapstructure:"endpoints"`
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MinCacheBody   int      `mapstructure:"min_cache_body"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxParallel       int  `mapstructure:"max_parallel"`
	NavTimeoutSec     int  `mapstructure:"nav_timeout_seconds"`
	PromotionBodySize int  `mapstructure:"promotion_body_size"`
}

// ArchiveConfig selects where pre-publish content snapshots go.
type ArchiveConfig struct {
	// Backend is "none", "memory", "local", or "gcs".
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for decision event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONETIZER")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.grounding_search", true)
	v.SetDefault("pipeline.concurrency", 3)
	v.SetDefault("pipeline.window_pause_seconds", 2)
	v.SetDefault("pipeline.auto_publish_threshold", 85)
	v.SetDefault("pipeline.strategy", "smart_middle")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_entries", 4096)
	v.SetDefault("relay.user_agent", "monetizer-bot/0.1")
	v.SetDefault("relay.timeout_seconds", 30)
	v.SetDefault("relay.min_cache_body", 500)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_body_size", 2048)
	v.SetDefault("archive.backend", "none")
	v.SetDefault("pubsub.topic_name", "monetizer.decisions")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.AutoPublishThreshold < 0 || c.Pipeline.AutoPublishThreshold > 100 {
		return fmt.Errorf("pipeline.auto_publish_threshold must be within [0, 100]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Cache.Backend {
	case "memory", "file":
	default:
		return fmt.Errorf("cache.backend must be memory or file, got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "file" && c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir must be set for the file backend")
	}
	switch c.Archive.Backend {
	case "none", "memory", "local", "gcs":
	default:
		return fmt.Errorf("archive.backend must be none, memory, local, or gcs, got %q", c.Archive.Backend)
	}
	if c.Archive.Backend == "local" && c.Archive.Dir == "" {
		return fmt.Errorf("archive.dir must be set for the local backend")
	}
	if c.Archive.Backend == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// ServerTimeout converts the request timeout config to a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// WindowPause converts the batch pause config to a duration.
func (c Config) WindowPause() time.Duration {
	return time.Duration(c.Pipeline.WindowPauseSeconds) * time.Second
}

// RelayTimeout converts the relay timeout config to a duration.
func (c Config) RelayTimeout() time.Duration {
	return time.Duration(c.Relay.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout config to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
