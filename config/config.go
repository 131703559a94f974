// Package config loads feedsync settings from defaults, an optional YAML file
// and FEEDSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Feed         FeedConfig         `mapstructure:"feed"`
	Relay        RelayConfig        `mapstructure:"relay"`
	ProfileCache ProfileCacheConfig `mapstructure:"profile_cache"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Log          LogConfig          `mapstructure:"log"`
	Sentry       SentryConfig       `mapstructure:"sentry"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Devtools     DevtoolsConfig     `mapstructure:"devtools"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// FeedConfig sizes the client-side views.
type FeedConfig struct {
	PageSize        int           `mapstructure:"page_size" validate:"gt=0"`
	MessagePageSize int           `mapstructure:"message_page_size" validate:"gt=0"`
	ChatPageSize    int           `mapstructure:"chat_page_size" validate:"gt=0"`
	ReloadDebounce  time.Duration `mapstructure:"reload_debounce" validate:"gt=0"`
	ChannelPrefix   string        `mapstructure:"channel_prefix" validate:"required"`
}

// RelayConfig 控制 outbox 转发 worker
type RelayConfig struct {
	Workers       int           `mapstructure:"workers" validate:"gt=0"`
	ClaimLimit    int           `mapstructure:"claim_limit" validate:"gt=0"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	RatePerSecond float64       `mapstructure:"rate_per_second" validate:"gte=0"`
}

type ProfileCacheConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string `mapstructure:"service_name"`
}

type DevtoolsConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=feedsync port=5432 sslmode=disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("feed.page_size", 50)
	v.SetDefault("feed.message_page_size", 30)
	v.SetDefault("feed.chat_page_size", 50)
	v.SetDefault("feed.reload_debounce", 500*time.Millisecond)
	v.SetDefault("feed.channel_prefix", "feedsync")
	v.SetDefault("relay.workers", 2)
	v.SetDefault("relay.claim_limit", 128)
	v.SetDefault("relay.poll_interval", 50*time.Millisecond)
	v.SetDefault("relay.rate_per_second", 0)
	v.SetDefault("profile_cache.ttl", 10*time.Minute)
	v.SetDefault("auth.jwt_secret", "dev-secret")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "feedsync")
	v.SetDefault("devtools.addr", ":8088")
}

// Load reads configuration. FEEDSYNC_CONFIG points at an explicit file;
// otherwise config.yaml is looked up in . and ./config and may be absent.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FEEDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("FEEDSYNC_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
