// Package config loads application configuration from defaults, an optional
// YAML file and MENTIONRELAY_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys are separated by
// a double underscore, e.g. MENTIONRELAY_DISCORD__DEFAULT_GUILD_ID.
const EnvPrefix = "MENTIONRELAY_"

// Config is the complete application configuration.
type Config struct {
	Log           LogConfig           `koanf:"log"`
	Server        ServerConfig        `koanf:"server"`
	Discord       DiscordConfig       `koanf:"discord"`
	Telegram      TelegramConfig      `koanf:"telegram"`
	Subscriptions SubscriptionsConfig `koanf:"subscriptions"`
	Delivery      DeliveryConfig      `koanf:"delivery"`
	Verification  VerificationConfig  `koanf:"verification"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// ServerConfig contains ops HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required,numeric"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required,numeric"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	APIToken          string        `koanf:"api_token"`
}

// DiscordConfig contains source gateway settings.
type DiscordConfig struct {
	Enabled                bool          `koanf:"enabled"`
	Token                  string        `koanf:"token" validate:"required_if=Enabled true"`
	DefaultGuildID         uint64        `koanf:"default_guild_id"`
	AlwaysNotifyChannelIDs []string      `koanf:"always_notify_channel_ids"`
	ChannelDenySubstrings  []string      `koanf:"channel_deny_substrings"`
	RoleExemptPrefixes     []string      `koanf:"role_exempt_prefixes"`
	ConnectAttempts        uint          `koanf:"connect_attempts"`
	HandlerTimeout         time.Duration `koanf:"handler_timeout"`
}

// TelegramConfig contains Bot API settings.
type TelegramConfig struct {
	Enabled        bool          `koanf:"enabled"`
	BotToken       string        `koanf:"bot_token" validate:"required_if=Enabled true"`
	APIURL         string        `koanf:"api_url"`
	RateLimit      float64       `koanf:"rate_limit" validate:"gte=0"`
	PollTimeout    time.Duration `koanf:"poll_timeout"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`
}

// SubscriptionsConfig selects and configures the subscription store.
type SubscriptionsConfig struct {
	Backend        string         `koanf:"backend" validate:"oneof=file postgres gcs memory"`
	FilePath       string         `koanf:"file_path"`
	WatchFile      bool           `koanf:"watch_file"`
	RefreshGrace   time.Duration  `koanf:"refresh_grace" validate:"gte=0"`
	ReloadInterval time.Duration  `koanf:"reload_interval" validate:"gte=0"`
	Postgres       PostgresConfig `koanf:"postgres"`
	GCS            GCSConfig      `koanf:"gcs"`
}

// PostgresConfig contains database settings for the postgres backend.
type PostgresConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
}

// GCSConfig contains settings for the Cloud Storage backend.
type GCSConfig struct {
	Bucket          string `koanf:"bucket"`
	Object          string `koanf:"object"`
	Attempts        uint   `koanf:"attempts"`
	CredentialsFile string `koanf:"credentials_file"`
}

// DeliveryConfig contains notification delivery settings.
type DeliveryConfig struct {
	SendTimeout    time.Duration `koanf:"send_timeout" validate:"gt=0"`
	MaxConcurrency int           `koanf:"max_concurrency" validate:"min=1"`
}

// VerificationConfig contains handle verification settings.
type VerificationConfig struct {
	Enabled   bool          `koanf:"enabled"`
	BaseURL   string        `koanf:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	SecretKey string        `koanf:"secret_key" validate:"required_if=Enabled true,omitempty,min=32"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Discord: DiscordConfig{
			Enabled:               true,
			ChannelDenySubstrings: []string{"ticket", "closed"},
			ConnectAttempts:       5,
			HandlerTimeout:        30 * time.Second,
		},
		Telegram: TelegramConfig{
			Enabled:        true,
			RateLimit:      25,
			PollTimeout:    30 * time.Second,
			HandlerTimeout: 30 * time.Second,
		},
		Subscriptions: SubscriptionsConfig{
			Backend:        "file",
			FilePath:       "data/subscriptions.yaml",
			WatchFile:      true,
			RefreshGrace:   2 * time.Second,
			ReloadInterval: 5 * time.Minute,
			Postgres: PostgresConfig{
				MaxOpenConns:    5,
				MaxIdleConns:    1,
				ConnMaxLifetime: time.Hour,
				ConnectAttempts: 5,
				ConnectTimeout:  60 * time.Second,
			},
			GCS: GCSConfig{
				Object:   "subscriptions.json",
				Attempts: 3,
			},
		},
		Delivery: DeliveryConfig{
			SendTimeout:    10 * time.Second,
			MaxConcurrency: 8,
		},
		Verification: VerificationConfig{
			TokenTTL: time.Hour,
		},
	}
}

// Load reads configuration. path may be empty, in which case CONFIG_PATH is
// consulted; a missing file at the resolved path is an error only if the path
// was given explicitly.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Decoding into a populated slice overwrites it element by element, so
	// list defaults are applied only when the key is absent.
	cfg := Defaults()
	denyDefault := cfg.Discord.ChannelDenySubstrings
	cfg.Discord.ChannelDenySubstrings = nil
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if !k.Exists("discord.channel_deny_substrings") {
		cfg.Discord.ChannelDenySubstrings = denyDefault
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// listKeys are split on commas when set from the environment.
var listKeys = map[string]bool{
	"discord.always_notify_channel_ids": true,
	"discord.channel_deny_substrings":   true,
	"discord.role_exempt_prefixes":      true,
}

// envKey maps MENTIONRELAY_SUBSCRIPTIONS__FILE_PATH to subscriptions.file_path.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func envValue(key, value string) (string, interface{}) {
	key = envKey(key)
	if !listKeys[key] {
		return key, value
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// Validate checks field constraints and the settings each backend needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Verification.Enabled && c.Server.APIToken == "" {
		return errors.New("invalid config: server.api_token is required when verification is enabled")
	}

	switch c.Subscriptions.Backend {
	case "file":
		if c.Subscriptions.FilePath == "" {
			return errors.New("invalid config: subscriptions.file_path is required for the file backend")
		}
	case "postgres":
		if c.Subscriptions.Postgres.URL == "" {
			return errors.New("invalid config: subscriptions.postgres.url is required for the postgres backend")
		}
	case "gcs":
		if c.Subscriptions.GCS.Bucket == "" {
			return errors.New("invalid config: subscriptions.gcs.bucket is required for the gcs backend")
		}
	}
	return nil
}
