// Package config loads per-binary settings from the environment, reading an
// optional .env file first.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Telemetry struct {
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"0.1.0"`
	OTLPEndpoint   string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

type Orders struct {
	Telemetry
	Port           string        `envconfig:"PORT" default:"8081"`
	PostgresURL    string        `envconfig:"POSTGRES_URL" required:"true"`
	KafkaBrokers   []string      `envconfig:"KAFKA_BROKERS"`
	EventsTopic    string        `envconfig:"ORDER_EVENTS_TOPIC" default:"order.events"`
	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	// PendingTTL bounds how long an unfinished placement blocks its key.
	PendingTTL time.Duration `envconfig:"IDEMPOTENCY_PENDING_TTL" default:"30s"`
}

type Inventory struct {
	Telemetry
	Port        string `envconfig:"PORT" default:"8082"`
	PostgresURL string `envconfig:"POSTGRES_URL" required:"true"`
}

type Worker struct {
	Telemetry
	KafkaBrokers    []string      `envconfig:"KAFKA_BROKERS" required:"true"`
	EmailServiceURL string        `envconfig:"EMAIL_SERVICE_URL" required:"true"`
	EventsTopic     string        `envconfig:"ORDER_EVENTS_TOPIC" default:"order.events"`
	ConsumerGroup   string        `envconfig:"CONSUMER_GROUP" default:"notification-worker"`
	RecipientDomain string        `envconfig:"EMAIL_RECIPIENT_DOMAIN" default:"example.com"`
	RetryAttempts   int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryBackoff    time.Duration `envconfig:"RETRY_BACKOFF" default:"500ms"`
}

type Email struct {
	Telemetry
	Port     string        `envconfig:"PORT" default:"8084"`
	MinDelay time.Duration `envconfig:"EMAIL_MIN_DELAY" default:"50ms"`
	Jitter   time.Duration `envconfig:"EMAIL_JITTER" default:"150ms"`
}

type Migrate struct {
	PostgresURL    string `envconfig:"POSTGRES_URL" required:"true"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"file://migrations"`
}

// Load fills cfg from the environment. Values already present in the
// environment win over those in .env.
func Load(cfg any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return envconfig.Process("", cfg)
}
