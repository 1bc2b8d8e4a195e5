package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"barometer/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	API           APIConfig
	Analytics     AnalyticsConfig
	Alerts        AlertsConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"barometer"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"market"`
}

type RedisConfig struct {
	Host      string        `envconfig:"REDIS_HOST" required:"true"`
	Port      int           `envconfig:"REDIS_PORT" default:"6379"`
	Password  string        `envconfig:"REDIS_PASSWORD"`
	DB        int           `envconfig:"REDIS_DB" default:"0"`
	ReportTTL time.Duration `envconfig:"REDIS_REPORT_TTL" default:"30m"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers       []string `envconfig:"KAFKA_BROKERS" required:"true"`
	SnapshotTopic string   `envconfig:"KAFKA_SNAPSHOT_TOPIC" default:"market.snapshots"`
	GroupID       string   `envconfig:"KAFKA_GROUP_ID" default:"barometer"`
}

type APIConfig struct {
	Port         int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"API_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"30s"`
	MaxRows      int           `envconfig:"API_MAX_ROWS" default:"5000"`
}

// AnalyticsConfig holds the tunable parameters of the derivation engines.
// Defaults match the warehouse views this service replaces.
type AnalyticsConfig struct {
	TopN                  int           `envconfig:"ANALYTICS_TOP_N" default:"20"`
	CorrelationWindowDays int           `envconfig:"ANALYTICS_CORRELATION_WINDOW_DAYS" default:"90"`
	MinOverlap            int64         `envconfig:"ANALYTICS_MIN_OVERLAP" default:"2"`
	AnomalyLookbackDays   int           `envconfig:"ANALYTICS_ANOMALY_LOOKBACK_DAYS" default:"30"`
	RefreshThrottle       time.Duration `envconfig:"ANALYTICS_REFRESH_THROTTLE" default:"1m"`
}

type AlertsConfig struct {
	Enabled  bool   `envconfig:"ALERTS_ENABLED" default:"false"`
	BotToken string `envconfig:"ALERTS_TELEGRAM_BOT_TOKEN"`
	ChatID   int64  `envconfig:"ALERTS_TELEGRAM_CHAT_ID"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for the background workers
type WorkerConfig struct {
	RefreshInterval time.Duration `envconfig:"WORKER_REFRESH_INTERVAL" default:"10m"`
	RefreshEnabled  bool          `envconfig:"WORKER_REFRESH_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
