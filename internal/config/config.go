// Package config builds the executor's configuration from the environment.
// It is loaded once at start and passed to every constructor that needs it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/luminamt5/executor/internal/pkg/env"
)

// Queue backends.
const (
	QueueRedis = "redis"
	QueueSQS   = "sqs"
)

// Lease backends.
const (
	LeaseRedis    = "redis"
	LeasePostgres = "postgres"
	LeaseMemory   = "memory"
)

// Config is the complete executor configuration.
type Config struct {
	Environment string
	AccountID   string
	HealthAddr  string

	// ErrorBackoff is the pause after an unexpected loop error.
	ErrorBackoff time.Duration

	Queue       QueueConfig
	Lease       LeaseConfig
	RedisURL    string
	DatabaseURL string
	Execution   ExecutionConfig
	Lifecycle   LifecycleConfig
	MT5         MT5Config
	Telemetry   TelemetryConfig
}

// QueueConfig locates the command queue.
type QueueConfig struct {
	Backend     string
	RedisKey    string
	AWSRegion   string
	SQSQueueURL string
	SQSEndpoint string
}

// LeaseConfig configures the idempotency store.
type LeaseConfig struct {
	Backend       string
	Prefix        string
	ProcessingTTL time.Duration
	CompletedTTL  time.Duration
}

// ExecutionConfig holds the two switches that must both agree before live
// trading is attempted.
type ExecutionConfig struct {
	DryRun             bool
	LiveTradingEnabled bool
}

// LifecycleConfig configures lifecycle reporting.
type LifecycleConfig struct {
	APIBase        string
	APIKey         string
	BearerToken    string
	MaxAttempts    int
	InitialBackoff time.Duration
	Timeout        time.Duration
	SNSTopicARN    string
}

// MT5Config holds the live terminal credentials and bridge location.
type MT5Config struct {
	Login        int64
	Password     string
	Server       string
	TerminalPath string
	BridgeAddr   string
}

// TelemetryConfig locates the trace and metric collectors.
type TelemetryConfig struct {
	OTLPEndpoint   string
	JaegerEndpoint string
}

// Load reads the configuration from environment variables, applying
// defaults for anything unset. It does not validate; call Validate.
func Load() (Config, error) {
	cfg := Config{
		Environment: env.Get("ENVIRONMENT", "development"),
		AccountID:   env.Get("ACCOUNT_ID", "demo-account"),
		HealthAddr:  env.Get("HEALTH_ADDR", ":8080"),
		RedisURL:    env.Get("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL: env.Get("DATABASE_URL", ""),
		Queue: QueueConfig{
			Backend:     strings.ToLower(env.Get("QUEUE_BACKEND", QueueRedis)),
			RedisKey:    env.Get("COMMAND_QUEUE_KEY", "luminamt5:commands"),
			AWSRegion:   env.Get("AWS_REGION", "eu-west-1"),
			SQSQueueURL: env.Get("AWS_SQS_QUEUE_URL", ""),
			SQSEndpoint: env.Get("AWS_SQS_ENDPOINT", ""),
		},
		Lease: LeaseConfig{
			Backend: strings.ToLower(env.Get("LEASE_BACKEND", LeaseRedis)),
			Prefix:  env.Get("IDEMPOTENCY_PREFIX", "luminamt5:idempotency"),
		},
		Execution: ExecutionConfig{
			DryRun:             env.GetBool("DRY_RUN", true),
			LiveTradingEnabled: env.GetBool("LIVE_TRADING_ENABLED", false),
		},
		Lifecycle: LifecycleConfig{
			APIBase:     env.Get("API_BASE", "http://localhost:3000"),
			APIKey:      os.Getenv("EXECUTOR_API_KEY"),
			BearerToken: os.Getenv("EXECUTOR_BEARER_TOKEN"),
			SNSTopicARN: os.Getenv("LIFECYCLE_SNS_TOPIC_ARN"),
		},
		MT5: MT5Config{
			Password:     os.Getenv("MT5_PASSWORD"),
			Server:       os.Getenv("MT5_SERVER"),
			TerminalPath: os.Getenv("MT5_TERMINAL_PATH"),
			BridgeAddr:   env.Get("MT5_BRIDGE_ADDR", "tcp://127.0.0.1:18812"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
		},
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.ErrorBackoff, err = env.GetSeconds("ERROR_BACKOFF_SEC", time.Second)
	collect(err)
	cfg.Lease.ProcessingTTL, err = env.GetSeconds("IDEMPOTENCY_PROCESSING_TTL_SEC", 120*time.Second)
	collect(err)
	cfg.Lease.CompletedTTL, err = env.GetSeconds("IDEMPOTENCY_COMPLETED_TTL_SEC", 7*24*time.Hour)
	collect(err)
	cfg.Lifecycle.MaxAttempts, err = env.GetInt("LIFECYCLE_MAX_ATTEMPTS", 3)
	collect(err)
	cfg.Lifecycle.InitialBackoff, err = env.GetSeconds("LIFECYCLE_INITIAL_BACKOFF_SEC", 500*time.Millisecond)
	collect(err)
	cfg.Lifecycle.Timeout, err = env.GetSeconds("LIFECYCLE_TIMEOUT_SEC", 5*time.Second)
	collect(err)
	cfg.MT5.Login, err = env.GetInt64("MT5_LOGIN", 0)
	collect(err)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate rejects configurations the executor cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Queue.Backend {
	case QueueRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis queue requires REDIS_URL"))
		}
		if c.Queue.RedisKey == "" {
			errs = append(errs, errors.New("redis queue requires COMMAND_QUEUE_KEY"))
		}
	case QueueSQS:
		if c.Queue.SQSQueueURL == "" {
			errs = append(errs, errors.New("queue URL not provided (use -queue flag or AWS_SQS_QUEUE_URL env var)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q (want redis or sqs)", c.Queue.Backend))
	}

	switch c.Lease.Backend {
	case LeaseRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis lease backend requires REDIS_URL"))
		}
	case LeasePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database URL not provided (use -db flag or DATABASE_URL env var)"))
		}
	case LeaseMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown LEASE_BACKEND %q (want redis, postgres or memory)", c.Lease.Backend))
	}

	if c.AccountID == "" {
		errs = append(errs, errors.New("ACCOUNT_ID must not be empty"))
	}
	if c.Lease.ProcessingTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_PROCESSING_TTL_SEC must be positive"))
	}
	if c.Lease.CompletedTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_COMPLETED_TTL_SEC must be positive"))
	}
	if c.Lease.CompletedTTL > 0 && c.Lease.CompletedTTL < c.Lease.ProcessingTTL {
		errs = append(errs, errors.New("IDEMPOTENCY_COMPLETED_TTL_SEC must not be shorter than the processing TTL"))
	}
	if c.Lifecycle.MaxAttempts <= 0 {
		errs = append(errs, errors.New("LIFECYCLE_MAX_ATTEMPTS must be positive"))
	}
	if c.Lifecycle.InitialBackoff < 0 {
		errs = append(errs, errors.New("LIFECYCLE_INITIAL_BACKOFF_SEC must not be negative"))
	}
	if c.Lifecycle.Timeout <= 0 {
		errs = append(errs, errors.New("LIFECYCLE_TIMEOUT_SEC must be positive"))
	}
	if c.ErrorBackoff < 0 {
		errs = append(errs, errors.New("ERROR_BACKOFF_SEC must not be negative"))
	}

	return errors.Join(errs...)
}

// LiveRequested reports whether both execution switches allow live trading.
func (c Config) LiveRequested() bool {
	return !c.Execution.DryRun && c.Execution.LiveTradingEnabled
}

// TraceEndpoint returns the collector endpoint for spans, preferring the
// OTLP endpoint over the Jaeger one.
func (c Config) TraceEndpoint() string {
	if c.Telemetry.OTLPEndpoint != "" {
		return c.Telemetry.OTLPEndpoint
	}
	return c.Telemetry.JaegerEndpoint
}
