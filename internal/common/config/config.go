package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Debug   bool   `env:"DEBUG" envDefault:"false"`
	LogJSON bool   `env:"LOG_JSON" envDefault:"false"`
	Version string `env:"APP_VERSION" envDefault:"1.1.6"`

	Server struct {
		Port int `env:"PORT" envDefault:"8080"`
		// Concurrent updates processed after the webhook has been acknowledged.
		DispatchConcurrency int           `env:"DISPATCH_CONCURRENCY" envDefault:"32"`
		UpdateTimeout       time.Duration `env:"UPDATE_TIMEOUT" envDefault:"60s"`
	}

	Redis struct {
		Host     string `env:"REDIS_HOST" envDefault:"localhost"`
		Port     int    `env:"REDIS_PORT" envDefault:"6379"`
		Password string `env:"REDIS_PASSWORD" envDefault:""`
		DB       int    `env:"REDIS_DB" envDefault:"0"`

		EnableSharding bool `env:"REDIS_ENABLE_SHARDING" envDefault:"false"`

		// host:port[:password][:db], comma separated
		WriteShards []string `env:"REDIS_WRITE_SHARDS" envSeparator:","`
		ReadShards  []string `env:"REDIS_READ_SHARDS" envSeparator:","`
	}

	Telegram struct {
		// Without a token nothing can be delivered; without an owner the admin surface
		// and error reporting stay disabled.
		BotToken      string `env:"BOT_TOKEN"`
		OwnerID       int64  `env:"OWNER_ID" envDefault:"0"`
		APIBaseURL    string `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
		WebhookURL    string `env:"WEBHOOK_URL"`
		WebhookSecret string `env:"WEBHOOK_SECRET"`
	}

	Union struct {
		APIURL      string        `env:"UNION_API_URL" envDefault:"https://verify.wzxabc.eu.org"`
		BotUsername string        `env:"UNION_BOT_USERNAME" envDefault:"RelayVerifyBot"`
		WebAppName  string        `env:"UNION_WEBAPP_NAME" envDefault:"verify"`
		BanCacheTTL time.Duration `env:"UNION_BAN_CACHE_TTL" envDefault:"24h"`
	}

	Relay struct {
		MediaGroupPoll    time.Duration `env:"MEDIA_GROUP_POLL" envDefault:"300ms"`
		MediaGroupQuiet   time.Duration `env:"MEDIA_GROUP_QUIET" envDefault:"300ms"`
		MediaGroupCeiling time.Duration `env:"MEDIA_GROUP_CEILING" envDefault:"3s"`
		AutoReplyWindow   time.Duration `env:"AUTO_REPLY_WINDOW" envDefault:"10m"`
		LocalCacheSize    int           `env:"LOCAL_CACHE_SIZE" envDefault:"2000"`
		LocalCacheTTL     time.Duration `env:"LOCAL_CACHE_TTL" envDefault:"30m"`
	}

	Broadcast struct {
		BatchSize  int           `env:"BROADCAST_BATCH_SIZE" envDefault:"500"`
		Budget     time.Duration `env:"BROADCAST_BUDGET" envDefault:"25s"`
		PauseEvery int           `env:"BROADCAST_PAUSE_EVERY" envDefault:"25"`
		Pause      time.Duration `env:"BROADCAST_PAUSE" envDefault:"1s"`
		JobTTL     time.Duration `env:"BROADCAST_JOB_TTL" envDefault:"24h"`
	}
}

// AdminEnabled reports whether owner commands can be recognised.
func (c *Config) AdminEnabled() bool {
	return c.Telegram.OwnerID != 0
}

// ErrorReportingEnabled reports whether failures can be pushed to the owner chat.
func (c *Config) ErrorReportingEnabled() bool {
	return c.Telegram.OwnerID != 0 && c.Telegram.BotToken != ""
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// A missing .env is normal in production where variables come from the host.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Broadcast.BatchSize <= 0 {
		return nil, fmt.Errorf("BROADCAST_BATCH_SIZE must be positive, got %d", cfg.Broadcast.BatchSize)
	}
	if cfg.Relay.LocalCacheSize <= 0 {
		return nil, fmt.Errorf("LOCAL_CACHE_SIZE must be positive, got %d", cfg.Relay.LocalCacheSize)
	}
	if cfg.Server.DispatchConcurrency <= 0 {
		cfg.Server.DispatchConcurrency = 1
	}
	return cfg, nil
}
