package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the booking engine.
type Config struct {
	Environment string    `mapstructure:"environment"`
	Port        int       `mapstructure:"port"`
	LogLevel    string    `mapstructure:"log_level"`
	DefaultTZ   string    `mapstructure:"default_tz"`
	Database    Database  `mapstructure:"database"`
	Redis       Redis     `mapstructure:"redis"`
	NATS        NATS      `mapstructure:"nats"`
	Storage     Storage   `mapstructure:"storage"`
	Messaging   Messaging `mapstructure:"messaging"`
	Calendar    Calendar  `mapstructure:"calendar"`
	NLP         NLP       `mapstructure:"nlp"`
	RateLimit   RateLimit `mapstructure:"rate_limit"`
	Dialogue    Dialogue  `mapstructure:"dialogue"`
}

type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type Redis struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type NATS struct {
	URL string `mapstructure:"url"`
}

// Storage selects the C1 KV backend. Backend ∈ {memory, redis}.
type Storage struct {
	Backend string `mapstructure:"backend"`
}

// Messaging holds the inbound/outbound webhook transport credentials.
type Messaging struct {
	VerifyToken  string `mapstructure:"verify_token"`
	AppSecret    string `mapstructure:"app_secret"`
	GraphBaseURL string `mapstructure:"graph_base_url"`
}

// Calendar holds the external calendar client's connection details.
type Calendar struct {
	BaseURL            string `mapstructure:"base_url"`
	ServiceAccountFile string `mapstructure:"service_account_file"`
}

// NLP holds the natural-language interpreter client's connection details.
type NLP struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type RateLimit struct {
	WebhookPerTenant   int `mapstructure:"webhook_per_tenant"`   // WEBHOOK_PER_PELU, default 1500/min
	OutboundPerTenant  int `mapstructure:"outbound_per_tenant"`  // OUTBOUND_WA_PER_PELU, default 100/min
	GeneralPerMinute   int `mapstructure:"general_per_minute"`   // loopback/general API
}

type Dialogue struct {
	SessionTTL            time.Duration `mapstructure:"session_ttl"`             // 5h
	IdempotencyTTL        time.Duration `mapstructure:"idempotency_ttl"`         // request-level idempotency cache
	DedupeTTL             time.Duration `mapstructure:"dedupe_ttl"`              // message_id / monotonic-ts, 24h
	HoursCacheTTL         time.Duration `mapstructure:"hours_cache_ttl"`         // 120s
	ListSnapshotTTL       time.Duration `mapstructure:"list_snapshot_ttl"`       // 300s
	WorkerPoolSize        int           `mapstructure:"worker_pool_size"`
	LoopbackTimeout       time.Duration `mapstructure:"loopback_timeout"`        // 40s
	MaxLockRetries        int           `mapstructure:"max_lock_retries"`        // 1
	LockRetryBaseInterval time.Duration `mapstructure:"lock_retry_base_interval"` // 0.15s
}

// Load loads configuration from environment variables, an optional config
// file, and built-in defaults: environment variables override the file,
// and the file overrides the defaults.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvPrefix("")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("nats.url", "NATS_URL")
	viper.BindEnv("environment", "ENVIRONMENT")
	viper.BindEnv("log_level", "LOG_LEVEL")
	viper.BindEnv("default_tz", "DEFAULT_TZ")
	viper.BindEnv("storage.backend", "STORAGE_BACKEND")
	viper.BindEnv("messaging.verify_token", "WA_VERIFY_TOKEN")
	viper.BindEnv("messaging.app_secret", "WA_APP_SECRET")
	viper.BindEnv("messaging.graph_base_url", "WA_GRAPH_BASE_URL")
	viper.BindEnv("calendar.base_url", "CALENDAR_BASE_URL")
	viper.BindEnv("calendar.service_account_file", "CALENDAR_SERVICE_ACCOUNT_FILE")
	viper.BindEnv("nlp.base_url", "NLP_BASE_URL")
	viper.BindEnv("nlp.api_key", "NLP_API_KEY")
	viper.BindEnv("nlp.model", "NLP_MODEL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("port", 8080)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("default_tz", "Europe/Madrid")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "booking")
	viper.SetDefault("database.password", "booking")
	viper.SetDefault("database.name", "booking")
	viper.SetDefault("database.ssl_mode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("nats.url", "nats://localhost:4222")

	viper.SetDefault("storage.backend", "memory")

	viper.SetDefault("messaging.verify_token", "")
	viper.SetDefault("messaging.app_secret", "")
	viper.SetDefault("messaging.graph_base_url", "https://graph.facebook.com/v19.0")

	viper.SetDefault("calendar.base_url", "")
	viper.SetDefault("calendar.service_account_file", "")

	viper.SetDefault("nlp.base_url", "")
	viper.SetDefault("nlp.api_key", "")
	viper.SetDefault("nlp.model", "gpt-4o-mini")

	viper.SetDefault("rate_limit.webhook_per_tenant", 1500)
	viper.SetDefault("rate_limit.outbound_per_tenant", 100)
	viper.SetDefault("rate_limit.general_per_minute", 600)

	viper.SetDefault("dialogue.session_ttl", "5h")
	viper.SetDefault("dialogue.idempotency_ttl", "24h")
	viper.SetDefault("dialogue.dedupe_ttl", "24h")
	viper.SetDefault("dialogue.hours_cache_ttl", "120s")
	viper.SetDefault("dialogue.list_snapshot_ttl", "300s")
	viper.SetDefault("dialogue.worker_pool_size", 32)
	viper.SetDefault("dialogue.loopback_timeout", "40s")
	viper.SetDefault("dialogue.max_lock_retries", 1)
	viper.SetDefault("dialogue.lock_retry_base_interval", "150ms")
}
