package config

import (
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment does
// not leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "ACCOUNT_ID", "HEALTH_ADDR", "REDIS_URL", "DATABASE_URL",
		"QUEUE_BACKEND", "COMMAND_QUEUE_KEY", "AWS_REGION", "AWS_SQS_QUEUE_URL", "AWS_SQS_ENDPOINT",
		"LEASE_BACKEND", "IDEMPOTENCY_PREFIX", "IDEMPOTENCY_PROCESSING_TTL_SEC", "IDEMPOTENCY_COMPLETED_TTL_SEC",
		"DRY_RUN", "LIVE_TRADING_ENABLED", "API_BASE", "EXECUTOR_API_KEY", "EXECUTOR_BEARER_TOKEN",
		"LIFECYCLE_MAX_ATTEMPTS", "LIFECYCLE_INITIAL_BACKOFF_SEC", "LIFECYCLE_TIMEOUT_SEC", "LIFECYCLE_SNS_TOPIC_ARN",
		"MT5_LOGIN", "MT5_PASSWORD", "MT5_SERVER", "MT5_TERMINAL_PATH", "MT5_BRIDGE_ADDR",
		"ERROR_BACKOFF_SEC", "OTEL_EXPORTER_OTLP_ENDPOINT", "JAEGER_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"queue backend", cfg.Queue.Backend, QueueRedis},
		{"queue key", cfg.Queue.RedisKey, "luminamt5:commands"},
		{"lease backend", cfg.Lease.Backend, LeaseRedis},
		{"lease prefix", cfg.Lease.Prefix, "luminamt5:idempotency"},
		{"processing ttl", cfg.Lease.ProcessingTTL, 120 * time.Second},
		{"completed ttl", cfg.Lease.CompletedTTL, 604800 * time.Second},
		{"account", cfg.AccountID, "demo-account"},
		{"dry run", cfg.Execution.DryRun, true},
		{"live enabled", cfg.Execution.LiveTradingEnabled, false},
		{"api base", cfg.Lifecycle.APIBase, "http://localhost:3000"},
		{"max attempts", cfg.Lifecycle.MaxAttempts, 3},
		{"initial backoff", cfg.Lifecycle.InitialBackoff, 500 * time.Millisecond},
		{"error backoff", cfg.ErrorBackoff, time.Second},
		{"bridge addr", cfg.MT5.BridgeAddr, "tcp://127.0.0.1:18812"},
		{"region", cfg.Queue.AWSRegion, "eu-west-1"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
	if cfg.LiveRequested() {
		t.Error("live trading must be off by default")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUEUE_BACKEND", "SQS")
	t.Setenv("AWS_SQS_QUEUE_URL", "https://sqs.eu-west-1.amazonaws.com/123/commands.fifo")
	t.Setenv("LEASE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/executor")
	t.Setenv("IDEMPOTENCY_PROCESSING_TTL_SEC", "30")
	t.Setenv("LIFECYCLE_INITIAL_BACKOFF_SEC", "0.25")
	t.Setenv("DRY_RUN", "false")
	t.Setenv("LIVE_TRADING_ENABLED", "1")
	t.Setenv("MT5_LOGIN", "5001")
	t.Setenv("JAEGER_ENDPOINT", "jaeger:4317")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Queue.Backend != QueueSQS || cfg.Lease.Backend != LeasePostgres {
		t.Errorf("unexpected backends %q/%q", cfg.Queue.Backend, cfg.Lease.Backend)
	}
	if cfg.Lease.ProcessingTTL != 30*time.Second {
		t.Errorf("expected 30s processing TTL, got %v", cfg.Lease.ProcessingTTL)
	}
	if cfg.Lifecycle.InitialBackoff != 250*time.Millisecond {
		t.Errorf("expected fractional seconds, got %v", cfg.Lifecycle.InitialBackoff)
	}
	if cfg.MT5.Login != 5001 {
		t.Errorf("expected login 5001, got %d", cfg.MT5.Login)
	}
	if !cfg.LiveRequested() {
		t.Error("both switches set must request live trading")
	}
	if cfg.TraceEndpoint() != "jaeger:4317" {
		t.Errorf("expected jaeger fallback, got %q", cfg.TraceEndpoint())
	}
}

func TestLoad_InvalidNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("MT5_LOGIN", "not-a-number")
	t.Setenv("LIFECYCLE_TIMEOUT_SEC", "soon")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"MT5_LOGIN", "LIFECYCLE_TIMEOUT_SEC"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError string
	}{
		{"sqs without queue url", func(c *Config) { c.Queue.Backend = QueueSQS }, "queue URL not provided"},
		{"unknown queue backend", func(c *Config) { c.Queue.Backend = "kafka" }, "unknown QUEUE_BACKEND"},
		{"postgres without database", func(c *Config) { c.Lease.Backend = LeasePostgres }, "database URL not provided"},
		{"unknown lease backend", func(c *Config) { c.Lease.Backend = "etcd" }, "unknown LEASE_BACKEND"},
		{"zero processing ttl", func(c *Config) { c.Lease.ProcessingTTL = 0 }, "IDEMPOTENCY_PROCESSING_TTL_SEC"},
		{"completed shorter than processing", func(c *Config) { c.Lease.CompletedTTL = time.Second }, "must not be shorter"},
		{"zero attempts", func(c *Config) { c.Lifecycle.MaxAttempts = 0 }, "LIFECYCLE_MAX_ATTEMPTS"},
		{"empty account", func(c *Config) { c.AccountID = "" }, "ACCOUNT_ID"},
		{"redis without url", func(c *Config) { c.RedisURL = "" }, "REDIS_URL"},
		{"memory lease is fine", func(c *Config) { c.Lease.Backend = LeaseMemory }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantError == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantError) {
				t.Fatalf("expected error containing %q, got %v", tt.wantError, err)
			}
		})
	}
}
