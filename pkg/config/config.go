package config

import (
	"time"

	"github.com/Proton-105/divar-watch-bot/internal/database"
	"github.com/Proton-105/divar-watch-bot/internal/provider/divar"
	"github.com/Proton-105/divar-watch-bot/internal/watcher"
	redisclient "github.com/Proton-105/divar-watch-bot/pkg/redis"
)

// Config holds runtime configuration for the Divar watch bot.
type Config struct {
	AppEnv    string          `mapstructure:"-"`
	App       AppConfig       `mapstructure:"app"`
	Bot       BotConfig       `mapstructure:"bot" validate:"required"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  database.Config `mapstructure:"database" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Watcher   watcher.Config  `mapstructure:"watcher"`
	Provider  divar.Config    `mapstructure:"provider"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Language string `mapstructure:"language" validate:"omitempty,oneof=fa en"`
	// CatalogFile overrides the embedded category catalog.
	CatalogFile string `mapstructure:"catalog_file"`
}

type BotConfig struct {
	Token string `mapstructure:"token" validate:"required"`
	Mode  string `mapstructure:"mode" validate:"omitempty,oneof=polling webhook"`
	// PublicURL is the externally reachable webhook endpoint.
	PublicURL string        `mapstructure:"public_url" validate:"required_if=Mode webhook"`
	Listen    string        `mapstructure:"listen"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	// Enabled switches sessions, locks and jobs from memory to Redis.
	Enabled bool               `mapstructure:"enabled"`
	Client  redisclient.Config `mapstructure:",squash" validate:"-"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	// File enables rotated file output next to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	PerUser   RateLimitRule `mapstructure:"per_user"`
	Whitelist []int64       `mapstructure:"whitelist"`
}

type RateLimitRule struct {
	Limit  int    `mapstructure:"limit" validate:"gte=0"`
	Window string `mapstructure:"window"`
}

type JobsConfig struct {
	// Enabled routes initial dispatches through the Redis job queue.
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency" validate:"gte=0"`
}

// ApplyDefaults fills zero values that the YAML files may omit.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "divar-watch-bot"
	}
	if c.App.Language == "" {
		c.App.Language = "fa"
	}
	if c.Bot.Mode == "" {
		c.Bot.Mode = "polling"
	}
	if c.Bot.Timeout <= 0 {
		c.Bot.Timeout = 10 * time.Second
	}
	if c.Bot.Listen == "" {
		c.Bot.Listen = ":8443"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = 30 * time.Minute
	}
	if c.Session.CleanupInterval <= 0 {
		c.Session.CleanupInterval = 5 * time.Minute
	}
	if c.RateLimit.PerUser.Limit == 0 {
		c.RateLimit.PerUser = RateLimitRule{Limit: 30, Window: "1m"}
	}
	if c.Jobs.Concurrency <= 0 {
		c.Jobs.Concurrency = 4
	}
}
