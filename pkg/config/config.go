package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names shared with tests and ops tooling.
const (
	EnvAppEnv    = "TUTORBILL_APP_ENV"
	EnvAppPort   = "TUTORBILL_APP_PORT"
	EnvDBDSN     = "TUTORBILL_DB_DSN"
	EnvRedisURL  = "TUTORBILL_REDIS_URL"
	EnvJWTSecret = "TUTORBILL_JWT_SECRET"
	EnvJWTIssuer = "TUTORBILL_JWT_ISSUER"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Invoice       InvoiceConfig
	Cache         CacheConfig
	Cron          CronConfig
	Stripe        StripeConfig
	Broadcast     BroadcastConfig
	Telegram      TelegramConfig
	Notifications NotificationsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TUTORBILL_APP_ENV" required:"true"`
	Port         string `envconfig:"TUTORBILL_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TUTORBILL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TUTORBILL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TUTORBILL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TUTORBILL_DB_DSN"`
	Driver string `envconfig:"TUTORBILL_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"TUTORBILL_DB_HOST"`
	Port     int    `envconfig:"TUTORBILL_DB_PORT" default:"5432"`
	User     string `envconfig:"TUTORBILL_DB_USER"`
	Password string `envconfig:"TUTORBILL_DB_PASSWORD"`
	Name     string `envconfig:"TUTORBILL_DB_NAME"`
	SSLMode  string `envconfig:"TUTORBILL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TUTORBILL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TUTORBILL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TUTORBILL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TUTORBILL_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrateDev bool `envconfig:"TUTORBILL_DB_AUTO_MIGRATE_DEV" default:"true"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("database DSN or host/user/name must be provided")
	}
	d.DSN = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(d.Password),
		d.Host,
		d.Port,
		d.Name,
		d.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"TUTORBILL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TUTORBILL_REDIS_ADDR"`
	Password     string        `envconfig:"TUTORBILL_REDIS_PASSWORD"`
	DB           int           `envconfig:"TUTORBILL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TUTORBILL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TUTORBILL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TUTORBILL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TUTORBILL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TUTORBILL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"TUTORBILL_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TUTORBILL_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TUTORBILL_JWT_EXPIRATION_MINUTES" default:"60"`
}

type InvoiceConfig struct {
	// MaxDescriptionLen caps the invoice description length.
	MaxDescriptionLen int `envconfig:"TUTORBILL_INVOICE_MAX_DESCRIPTION_LEN" default:"2000"`
}

type CacheConfig struct {
	StatisticsTTL time.Duration `envconfig:"TUTORBILL_CACHE_STATISTICS_TTL" default:"1h"`
	RevenueTTL    time.Duration `envconfig:"TUTORBILL_CACHE_REVENUE_TTL" default:"30m"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"TUTORBILL_CRON_INTERVAL" default:"24h"`
	LockTTL  time.Duration `envconfig:"TUTORBILL_CRON_LOCK_TTL" default:"25h"`
}

type StripeConfig struct {
	APIKey         string        `envconfig:"TUTORBILL_STRIPE_API_KEY"`
	WebhookSecret  string        `envconfig:"TUTORBILL_STRIPE_WEBHOOK_SECRET"`
	Env            string        `envconfig:"TUTORBILL_STRIPE_ENV" default:"test"`
	IdempotencyTTL time.Duration `envconfig:"TUTORBILL_STRIPE_IDEMPOTENCY_TTL" default:"24h"`
}

func (s StripeConfig) Environment() string {
	return strings.ToLower(strings.TrimSpace(s.Env))
}

type BroadcastConfig struct {
	ProjectID string `envconfig:"TUTORBILL_GCP_PROJECT_ID"`
	Topic     string `envconfig:"TUTORBILL_BROADCAST_TOPIC" default:"invoice-events"`
}

func (b BroadcastConfig) Enabled() bool {
	return strings.TrimSpace(b.ProjectID) != "" && strings.TrimSpace(b.Topic) != ""
}

type TelegramConfig struct {
	BotToken string        `envconfig:"TUTORBILL_TELEGRAM_BOT_TOKEN"`
	BaseURL  string        `envconfig:"TUTORBILL_TELEGRAM_BASE_URL" default:"https://api.telegram.org"`
	Timeout  time.Duration `envconfig:"TUTORBILL_TELEGRAM_TIMEOUT" default:"10s"`
}

func (t TelegramConfig) Enabled() bool {
	return strings.TrimSpace(t.BotToken) != ""
}

type NotificationsConfig struct {
	RetentionDays int `envconfig:"TUTORBILL_NOTIFICATIONS_RETENTION_DAYS" default:"30"`
}
