// Package config provides application configuration management using Viper.
// It supports loading from a .env file, environment variables, config files, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	WhatsApp  WhatsAppConfig
	Anthropic AnthropicConfig
	Operator  OperatorConfig
	Delivery  DeliveryConfig
	Followup  FollowupConfig
	Business  BusinessConfig
	Media     MediaConfig
	Admin     AdminConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string
	Port        int
	Environment string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps leads in
	// process and is meant for local development only.
	Driver                string
	Host                  string
	Port                  int
	User                  string
	Password              string
	Name                  string
	SSLMode               string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
	AutoMigrate           bool
}

// ConnectionString returns a PostgreSQL connection string.
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig holds settings for the inbound message dedupe store.
// An empty Addr selects the in-process store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	DedupeTTL time.Duration
}

// WhatsAppConfig holds WhatsApp Cloud API settings.
type WhatsAppConfig struct {
	APIURL        string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret string
	Timeout   time.Duration
}

// AnthropicConfig holds language model settings.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	APIURL  string
	Timeout time.Duration

	// Call budget. Zero disables a window.
	MaxCallsPerMinute int
	MaxCallsPerHour   int
	MaxCallsPerDay    int
	MaxConcurrent     int
}

// OperatorConfig holds the human operator alert settings.
type OperatorConfig struct {
	PhoneNumber string
	CRMBaseURL  string
}

// DeliveryConfig holds outbound pacing settings.
type DeliveryConfig struct {
	MinDelay       time.Duration
	MaxDelay       time.Duration
	DebounceWindow time.Duration
	SendAttempts   int
}

// FollowupConfig holds automatic follow-up settings.
type FollowupConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchLimit  int
	Concurrency int
	Timezone    string
}

// Location resolves the configured timezone, falling back to UTC.
func (f *FollowupConfig) Location() *time.Location {
	if f.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BusinessConfig holds the persona and portfolio settings.
type BusinessConfig struct {
	Name          string
	AssistantName string
	PortfolioURLs []string
}

// MediaConfig holds uploaded plan storage settings.
type MediaConfig struct {
	// Backend is "local" or "gcs".
	Backend   string
	Dir       string
	BaseURL   string
	GCSBucket string
}

// AdminConfig holds the staff API settings.
type AdminConfig struct {
	Token string
	// RateLimit is the number of requests per RateWindow allowed per client IP.
	RateLimit  int
	RateWindow time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from .env, environment variables and config files.
// Environment variables take precedence over config file values.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/plumbot")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFoundErr) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Host:        v.GetString("server.host"),
			Port:        v.GetInt("server.port"),
			Environment: v.GetString("server.env"),
		},
		Database: DatabaseConfig{
			Driver:                v.GetString("database.driver"),
			Host:                  v.GetString("database.host"),
			Port:                  v.GetInt("database.port"),
			User:                  v.GetString("database.user"),
			Password:              v.GetString("database.password"),
			Name:                  v.GetString("database.name"),
			SSLMode:               v.GetString("database.sslmode"),
			MaxConnections:        v.GetInt("database.max_connections"),
			MaxIdleConnections:    v.GetInt("database.max_idle_connections"),
			ConnectionMaxLifetime: v.GetDuration("database.connection_max_lifetime"),
			AutoMigrate:           v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			DedupeTTL: v.GetDuration("redis.dedupe_ttl"),
		},
		WhatsApp: WhatsAppConfig{
			APIURL:        v.GetString("whatsapp.api_url"),
			PhoneNumberID: v.GetString("whatsapp.phone_number_id"),
			AccessToken:   v.GetString("whatsapp.access_token"),
			VerifyToken:   v.GetString("whatsapp.verify_token"),
			AppSecret:     v.GetString("whatsapp.app_secret"),
			Timeout:       v.GetDuration("whatsapp.timeout"),
		},
		Anthropic: AnthropicConfig{
			APIKey:  v.GetString("anthropic.api_key"),
			Model:   v.GetString("anthropic.model"),
			APIURL:  v.GetString("anthropic.api_url"),
			Timeout: v.GetDuration("anthropic.timeout"),

			MaxCallsPerMinute: v.GetInt("anthropic.max_calls_per_minute"),
			MaxCallsPerHour:   v.GetInt("anthropic.max_calls_per_hour"),
			MaxCallsPerDay:    v.GetInt("anthropic.max_calls_per_day"),
			MaxConcurrent:     v.GetInt("anthropic.max_concurrent"),
		},
		Operator: OperatorConfig{
			PhoneNumber: v.GetString("operator.phone_number"),
			CRMBaseURL:  v.GetString("operator.crm_base_url"),
		},
		Delivery: DeliveryConfig{
			MinDelay:       v.GetDuration("delivery.min_delay"),
			MaxDelay:       v.GetDuration("delivery.max_delay"),
			DebounceWindow: v.GetDuration("delivery.debounce_window"),
			SendAttempts:   v.GetInt("delivery.send_attempts"),
		},
		Followup: FollowupConfig{
			Enabled:     v.GetBool("followup.enabled"),
			Interval:    v.GetDuration("followup.interval"),
			BatchLimit:  v.GetInt("followup.batch_limit"),
			Concurrency: v.GetInt("followup.concurrency"),
			Timezone:    v.GetString("followup.timezone"),
		},
		Business: BusinessConfig{
			Name:          v.GetString("business.name"),
			AssistantName: v.GetString("business.assistant_name"),
			PortfolioURLs: splitList(v.GetString("business.portfolio_urls")),
		},
		Media: MediaConfig{
			Backend:   v.GetString("media.backend"),
			Dir:       v.GetString("media.dir"),
			BaseURL:   v.GetString("media.base_url"),
			GCSBucket: v.GetString("media.gcs_bucket"),
		},
		Admin: AdminConfig{
			Token:      v.GetString("admin.token"),
			RateLimit:  v.GetInt("admin.rate_limit"),
			RateWindow: v.GetDuration("admin.rate_window"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "plumbot")
	v.SetDefault("database.name", "plumbot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_connections", 5)
	v.SetDefault("database.connection_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dedupe_ttl", "24h")

	v.SetDefault("whatsapp.api_url", "https://graph.facebook.com/v19.0")
	v.SetDefault("whatsapp.timeout", "20s")

	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.api_url", "https://api.anthropic.com/v1/messages")
	v.SetDefault("anthropic.timeout", "30s")
	v.SetDefault("anthropic.max_calls_per_minute", 30)
	v.SetDefault("anthropic.max_calls_per_hour", 600)
	v.SetDefault("anthropic.max_calls_per_day", 5000)
	v.SetDefault("anthropic.max_concurrent", 8)

	v.SetDefault("delivery.min_delay", "1m")
	v.SetDefault("delivery.max_delay", "5m")
	v.SetDefault("delivery.debounce_window", "8s")
	v.SetDefault("delivery.send_attempts", 3)

	v.SetDefault("followup.enabled", true)
	v.SetDefault("followup.interval", "30m")
	v.SetDefault("followup.batch_limit", 200)
	v.SetDefault("followup.concurrency", 4)
	v.SetDefault("followup.timezone", "Africa/Harare")

	v.SetDefault("business.name", "Homebase Plumbers")
	v.SetDefault("business.assistant_name", "Sarah")

	v.SetDefault("media.backend", "local")
	v.SetDefault("media.dir", "./media")
	v.SetDefault("media.base_url", "/media")

	v.SetDefault("admin.rate_limit", 60)
	v.SetDefault("admin.rate_window", "1m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration values are present.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.Driver != "memory" && c.Database.Password == "" {
		missing = append(missing, "DATABASE_PASSWORD")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		missing = append(missing, "WHATSAPP_PHONE_NUMBER_ID")
	}
	if c.WhatsApp.AccessToken == "" {
		missing = append(missing, "WHATSAPP_ACCESS_TOKEN")
	}
	if c.WhatsApp.VerifyToken == "" {
		missing = append(missing, "WHATSAPP_VERIFY_TOKEN")
	}
	if c.Media.Backend == "gcs" && c.Media.GCSBucket == "" {
		missing = append(missing, "MEDIA_GCS_BUCKET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Delivery.MinDelay > c.Delivery.MaxDelay {
		return fmt.Errorf("delivery.min_delay (%s) exceeds delivery.max_delay (%s)", c.Delivery.MinDelay, c.Delivery.MaxDelay)
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
