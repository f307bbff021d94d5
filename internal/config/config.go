package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
)

// Queue backends selectable through QUEUE_BACKEND.
const (
	BackendSQS      = "sqs"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Ack policies selectable through CONSUMER_ACK_POLICY.
const (
	AckAll              = "all"
	AckSubscriptionOnly = "subscription_only"
)

// Config holds all runtime configuration loaded from environment variables.
// Which fields are required depends on the selected queue backend; see Validate.
type Config struct {
	// Server
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	MetricsPort     string        `envconfig:"METRICS_PORT" default:"9090"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`

	// Queue
	QueueBackend      string        `envconfig:"QUEUE_BACKEND" default:"sqs"`
	VisibilityTimeout time.Duration `envconfig:"QUEUE_VISIBILITY_TIMEOUT" default:"30s"`
	MemoryCapacity    int           `envconfig:"QUEUE_MEMORY_CAPACITY" default:"1000"`

	// SQS
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	AWSAccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	SQSEndpoint        string `envconfig:"SQS_ENDPOINT"`

	// Postgres
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	DBMaxConns     int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns     int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	DBPollInterval time.Duration `envconfig:"DB_POLL_INTERVAL" default:"500ms"`
	MigrationsPath string        `envconfig:"MIGRATIONS_PATH" default:"file://migrations"`

	// Redis
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisStream   string `envconfig:"REDIS_STREAM" default:"notifications"`
	RedisGroup    string `envconfig:"REDIS_GROUP" default:"notification-consumers"`
	RedisConsumer string `envconfig:"REDIS_CONSUMER" default:"consumer-1"`

	// Consumer
	BatchSize       int           `envconfig:"CONSUMER_BATCH_SIZE" default:"5"`
	WaitTime        time.Duration `envconfig:"CONSUMER_WAIT_TIME" default:"10s"`
	ErrorPause      time.Duration `envconfig:"CONSUMER_ERROR_PAUSE" default:"1s"`
	AckPolicy       string        `envconfig:"CONSUMER_ACK_POLICY" default:"all"`
	SendRatePerType int           `envconfig:"SEND_RATE_PER_TYPE" default:"10"`

	// SMTP
	SMTPServer    string        `envconfig:"SMTP_SERVER"`
	SMTPPort      int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPTLS       string        `envconfig:"SMTP_TLS" default:"starttls"`
	SMTPTimeout   time.Duration `envconfig:"SMTP_TIMEOUT" default:"15s"`
	EmailSender   string        `envconfig:"EMAIL_SENDER"`
	EmailPassword string        `envconfig:"EMAIL_PASSWORD"`
}

// Load reads Config from the environment and validates the queue settings.
// SMTP settings are checked separately by RequireSMTP because only the
// consumer sends mail.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every missing or inconsistent queue/consumer setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.QueueBackend {
	case BackendSQS:
		if c.SQSQueueURL == "" {
			result = multierror.Append(result, errors.New("SQS_QUEUE_URL is required for the sqs backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			result = multierror.Append(result, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			result = multierror.Append(result, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	case BackendMemory:
		if c.MemoryCapacity <= 0 {
			result = multierror.Append(result, errors.New("QUEUE_MEMORY_CAPACITY must be positive"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}

	if c.BatchSize < 1 || c.BatchSize > 10 {
		result = multierror.Append(result, fmt.Errorf("CONSUMER_BATCH_SIZE must be between 1 and 10, got %d", c.BatchSize))
	}
	if c.WaitTime < 0 || c.WaitTime > 20*time.Second {
		result = multierror.Append(result, fmt.Errorf("CONSUMER_WAIT_TIME must be between 0s and 20s, got %s", c.WaitTime))
	}
	if c.ErrorPause <= 0 {
		result = multierror.Append(result, fmt.Errorf("CONSUMER_ERROR_PAUSE must be positive, got %s", c.ErrorPause))
	}
	// SQS applies the queue's own visibility timeout; the other backends lease with this one.
	if c.QueueBackend != BackendSQS && c.VisibilityTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT must be positive, got %s", c.VisibilityTimeout))
	}
	if c.AckPolicy != AckAll && c.AckPolicy != AckSubscriptionOnly {
		result = multierror.Append(result, fmt.Errorf("unknown CONSUMER_ACK_POLICY %q", c.AckPolicy))
	}

	return result.ErrorOrNil()
}

// RequireSMTP checks the settings the consumer needs to deliver mail.
func (c *Config) RequireSMTP() error {
	var result *multierror.Error
	if c.SMTPServer == "" {
		result = multierror.Append(result, errors.New("SMTP_SERVER is required"))
	}
	if c.EmailSender == "" {
		result = multierror.Append(result, errors.New("EMAIL_SENDER is required"))
	}
	return result.ErrorOrNil()
}
