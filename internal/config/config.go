// Package config builds the explicit process configuration from the
// environment. It is loaded once in main and handed to every constructor;
// no package keeps its own client or reads the environment on its own.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full configuration of one process.
type Config struct {
	ServiceName string
	Environment string
	Region      string
	LogLevel    slog.Level

	HTTPAddr    string
	MetricsAddr string
	HealthAddr  string

	Database  DatabaseConfig
	Redis     RedisConfig
	Queues    QueueConfig
	Blob      BlobConfig
	Saga      SagaConfig
	Telemetry TelemetryConfig
}

// DatabaseConfig locates the Order Store and the Inventory table.
type DatabaseConfig struct {
	URL            string
	OrdersTable    string
	InventoryTable string
	MaxOpenConns   *int
}

// RedisConfig holds Redis connection settings shared by the queue and the
// blob store.
type RedisConfig struct {
	URL                string
	Username           string
	Password           string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	PoolSize           *int
	HealthcheckTimeout time.Duration
	EnableOTel         bool
}

// QueueConfig names the queues and their delivery policy.
type QueueConfig struct {
	OrderQueue        string
	OrderDeadLetter   string
	TaskQueue         string
	TaskDeadLetter    string
	ConsumerGroup     string
	ConsumerName      string
	VisibilityTimeout time.Duration
	MaxReceiveCount   int
	BatchSize         int
	WaitTime          time.Duration
	BackoffMax        time.Duration
}

// BlobConfig names the buckets of the Result/Receipt Store.
type BlobConfig struct {
	ReceiptBucket string
	ResultBucket  string
}

// SagaConfig tunes the order saga.
type SagaConfig struct {
	PaymentSuccessRate float64
	LogDriver          string
	SQLitePath         string
}

// TelemetryConfig controls the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool
	Endpoint string
}

var identifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Load reads a .env file when one is present and then the process
// environment. serviceName is used when OTEL_SERVICE_NAME is unset.
func Load(serviceName string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		ServiceName: stringOr("OTEL_SERVICE_NAME", serviceName),
		Environment: stringOr("APP_ENV", "local"),
		Region:      stringOr("APP_REGION", "us-east-1"),
		HTTPAddr:    stringOr("HTTP_ADDR", ":8080"),
		MetricsAddr: stringOr("METRICS_ADDR", ":9100"),
		HealthAddr:  stringOr("HEALTH_ADDR", ":9090"),
		Database: DatabaseConfig{
			URL:            strings.TrimSpace(os.Getenv("DATABASE_URL")),
			OrdersTable:    stringOr("ORDERS_TABLE", "orders"),
			InventoryTable: stringOr("INVENTORY_TABLE", "inventory"),
		},
		Redis: RedisConfig{
			URL:      stringOr("REDIS_URL", "redis://localhost:6379/0"),
			Username: strings.TrimSpace(os.Getenv("REDIS_USERNAME")),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Queues: QueueConfig{
			OrderQueue:    stringOr("ORDER_QUEUE", "order-processing-queue"),
			TaskQueue:     stringOr("TASK_QUEUE", "task-queue"),
			ConsumerGroup: stringOr("QUEUE_CONSUMER_GROUP", serviceName),
			ConsumerName:  stringOr("QUEUE_CONSUMER_NAME", hostname()),
		},
		Blob: BlobConfig{
			ReceiptBucket: stringOr("RECEIPT_BUCKET", "order-receipts"),
			ResultBucket:  stringOr("RESULT_BUCKET", "task-results"),
		},
		Saga: SagaConfig{
			LogDriver:  stringOr("SAGA_LOG_DRIVER", "postgres"),
			SQLitePath: stringOr("SAGA_LOG_SQLITE_PATH", "./data/saga.db"),
		},
		Telemetry: TelemetryConfig{
			Endpoint: stringOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
	}
	cfg.Queues.OrderDeadLetter = stringOr("ORDER_DLQ", cfg.Queues.OrderQueue+"-dlq")
	cfg.Queues.TaskDeadLetter = stringOr("TASK_DLQ", cfg.Queues.TaskQueue+"-dlq")

	var err error
	if cfg.LogLevel, err = logLevel("LOG_LEVEL"); err != nil {
		return cfg, err
	}
	if cfg.Database.MaxOpenConns, err = optionalInt("DATABASE_MAX_OPEN_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.Redis.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.Redis.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.Redis.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.Redis.HealthcheckTimeout, err = durationOr("REDIS_HEALTHCHECK_TIMEOUT", 3*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Redis.EnableOTel, err = boolOr("REDIS_OTEL", false); err != nil {
		return cfg, err
	}
	if cfg.Queues.VisibilityTimeout, err = durationOr("QUEUE_VISIBILITY_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Queues.MaxReceiveCount, err = intOr("QUEUE_MAX_RECEIVE_COUNT", 3); err != nil {
		return cfg, err
	}
	if cfg.Queues.BatchSize, err = intOr("QUEUE_BATCH_SIZE", 10); err != nil {
		return cfg, err
	}
	if cfg.Queues.WaitTime, err = durationOr("QUEUE_WAIT_TIME", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Queues.BackoffMax, err = durationOr("QUEUE_BACKOFF_MAX", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.Saga.PaymentSuccessRate, err = floatOr("PAYMENT_SUCCESS_RATE", 0.95); err != nil {
		return cfg, err
	}
	if cfg.Telemetry.Enabled, err = boolOr("OTEL_ENABLED", true); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate checks values that cannot be rejected while parsing.
func (c Config) Validate() error {
	for name, v := range map[string]string{
		"ORDERS_TABLE":    c.Database.OrdersTable,
		"INVENTORY_TABLE": c.Database.InventoryTable,
	} {
		if !identifier.MatchString(v) {
			return fmt.Errorf("%s: invalid identifier %q", name, v)
		}
	}
	if c.Saga.PaymentSuccessRate < 0 || c.Saga.PaymentSuccessRate > 1 {
		return fmt.Errorf("PAYMENT_SUCCESS_RATE must be within [0,1], got %v", c.Saga.PaymentSuccessRate)
	}
	if c.Queues.MaxReceiveCount < 1 {
		return errors.New("QUEUE_MAX_RECEIVE_COUNT must be >= 1")
	}
	if c.Queues.BatchSize < 1 {
		return errors.New("QUEUE_BATCH_SIZE must be >= 1")
	}
	switch c.Saga.LogDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("SAGA_LOG_DRIVER: unsupported driver %q", c.Saga.LogDriver)
	}
	return nil
}

// RequireDatabase fails when the process needs the Order Store but
// DATABASE_URL is unset.
func (c Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

func stringOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "worker"
	}
	return h
}

func logLevel(name string) (slog.Level, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%s: %w", name, err)
	}
	return lvl, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func durationOr(name string, fallback time.Duration) (time.Duration, error) {
	val, err := optionalDuration(name)
	if err != nil || val == nil {
		return fallback, err
	}
	return *val, nil
}

func intOr(name string, fallback int) (int, error) {
	val, err := optionalInt(name)
	if err != nil || val == nil {
		return fallback, err
	}
	return *val, nil
}

func floatOr(name string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func boolOr(name string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}
