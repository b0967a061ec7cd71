// Package main runs the executor worker: it consumes trading commands from
// the command queue, executes each at most once through the configured
// gateway and reports outcomes to the lifecycle API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	goredis "github.com/redis/go-redis/v9"

	httpadapter "github.com/luminamt5/executor/internal/adapters/inbound/http"
	"github.com/luminamt5/executor/internal/adapters/outbound/gateway"
	"github.com/luminamt5/executor/internal/adapters/outbound/lifecycle"
	"github.com/luminamt5/executor/internal/adapters/outbound/memory"
	"github.com/luminamt5/executor/internal/adapters/outbound/mt5bridge"
	"github.com/luminamt5/executor/internal/adapters/outbound/postgres"
	redisadapter "github.com/luminamt5/executor/internal/adapters/outbound/redis"
	snsadapter "github.com/luminamt5/executor/internal/adapters/outbound/sns"
	sqsadapter "github.com/luminamt5/executor/internal/adapters/outbound/sqs"
	"github.com/luminamt5/executor/internal/adapters/outbound/telemetry"
	"github.com/luminamt5/executor/internal/config"
	"github.com/luminamt5/executor/internal/pkg/env"
	"github.com/luminamt5/executor/internal/ports/outbound"
	"github.com/luminamt5/executor/internal/services/executor"
	"github.com/luminamt5/executor/internal/services/idempotency"
)

// Build-time variables
var (
	GitCommit string
	GitBranch string
	BuildTime string
)

// janitorInterval is how often expired Postgres leases are purged.
const janitorInterval = 10 * time.Minute

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if GitCommit == "" {
					GitCommit = setting.Value
				}
			case "vcs.time":
				if BuildTime == "" {
					BuildTime = setting.Value
				}
			}
		}
	}
}

func main() {
	// Missing .env files are fine; the environment may be set by the host.
	if err := env.LoadFiles(".env", ".env.local"); err != nil {
		fmt.Fprintf(os.Stderr, "loading .env files: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	showVersion bool
	cfg         config.Config
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("executor", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "Show version information and exit")
	queueBackend := fs.String("queue-backend", "", "Command queue backend: redis or sqs")
	queueURL := fs.String("queue", "", "SQS queue URL")
	leaseBackend := fs.String("lease-backend", "", "Lease backend: redis, postgres or memory")
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	redisURL := fs.String("redis", "", "Redis URL")
	healthAddr := fs.String("health-addr", "", "Health server listen address")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if *showVersion {
		return cliConfig{showVersion: true}, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return cliConfig{}, fmt.Errorf("loading configuration: %w", err)
	}

	if *queueBackend != "" {
		cfg.Queue.Backend = *queueBackend
	}
	if *queueURL != "" {
		cfg.Queue.SQSQueueURL = *queueURL
	}
	if *leaseBackend != "" {
		cfg.Lease.Backend = *leaseBackend
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}
	if *redisURL != "" {
		cfg.RedisURL = *redisURL
	}
	if *healthAddr != "" {
		cfg.HealthAddr = *healthAddr
	}

	if err := cfg.Validate(); err != nil {
		return cliConfig{}, err
	}
	return cliConfig{cfg: cfg}, nil
}

func run(ctx context.Context, args []string) error {
	cli, err := parseConfig(args)
	if err != nil {
		return err
	}
	if cli.showVersion {
		fmt.Printf("luminamt5-executor\n")
		fmt.Printf("  Commit:     %s\n", GitCommit)
		fmt.Printf("  Branch:     %s\n", GitBranch)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		return nil
	}
	cfg := cli.cfg

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	logger.Info("starting luminamt5 executor",
		"commit", GitCommit,
		"account", cfg.AccountID,
		"queue", cfg.Queue.Backend,
		"lease", cfg.Lease.Backend,
		"dryRun", cfg.Execution.DryRun,
		"liveTradingEnabled", cfg.Execution.LiveTradingEnabled,
	)

	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewExecutorMetrics()
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}

	var redisClient *goredis.Client
	if cfg.Queue.Backend == config.QueueRedis || cfg.Lease.Backend == config.LeaseRedis {
		redisClient, err = redisadapter.NewClient(redisadapter.Config{URL: cfg.RedisURL})
		if err != nil {
			return fmt.Errorf("creating redis client: %w", err)
		}
		defer redisClient.Close()
		if err := redisadapter.Ping(ctx, redisClient); err != nil {
			return err
		}
		logger.Info("Redis connected")
	}

	queue, err := newQueue(cfg, awsCfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	backend, cleanup, err := newLeaseBackend(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	hostname, _ := os.Hostname()
	store, err := idempotency.NewStore(backend, idempotency.Config{
		Prefix:        cfg.Lease.Prefix,
		AccountID:     cfg.AccountID,
		ProcessingTTL: cfg.Lease.ProcessingTTL,
		CompletedTTL:  cfg.Lease.CompletedTTL,
		Owner:         fmt.Sprintf("%s:%d", hostname, os.Getpid()),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("creating lease store: %w", err)
	}

	reporter, closeReporter, err := newReporter(cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer closeReporter()

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := gw.Close(closeCtx); err != nil {
			logger.Warn("closing gateway", "error", err)
		}
	}()

	service, err := executor.NewService(executor.Config{
		AccountID:    cfg.AccountID,
		ErrorBackoff: cfg.ErrorBackoff,
		Metrics:      metrics,
		Logger:       logger,
	}, queue, store, gw, reporter)
	if err != nil {
		return fmt.Errorf("creating executor service: %w", err)
	}

	var shuttingDown atomic.Bool
	health := httpadapter.NewHealthServer(httpadapter.HealthServerConfig{
		Addr:    cfg.HealthAddr,
		Logger:  logger,
		Details: gatewayDetails(gw),
	}, service, &shuttingDown)
	if err := health.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}
	defer func() {
		if err := health.Shutdown(5 * time.Second); err != nil {
			logger.Warn("health server shutdown failed", "error", err)
		}
	}()

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	logger.Info("executor started, waiting for commands...")

	<-ctx.Done()
	shuttingDown.Store(true)
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		if err := service.Stop(); err != nil {
			logger.Error("error stopping service", "error", err)
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return errors.New("shutdown timed out")
	}
	return nil
}

func initTelemetry(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	shutdownTracer := func(context.Context) error { return nil }
	if endpoint := cfg.TraceEndpoint(); endpoint != "" {
		var err error
		shutdownTracer, err = telemetry.InitTracer(ctx, telemetry.TracerConfig{
			ServiceName:    "luminamt5-executor",
			ServiceVersion: GitCommit,
			Environment:    cfg.Environment,
			Endpoint:       endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing tracer: %w", err)
		}
	}

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    "luminamt5-executor",
		ServiceVersion: GitCommit,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	return func(ctx context.Context) error {
		return errors.Join(shutdownTracer(ctx), shutdownMetrics(ctx))
	}, nil
}

// loadAWSConfig loads AWS configuration when an AWS-backed adapter is in use.
func loadAWSConfig(ctx context.Context, cfg config.Config) (*aws.Config, error) {
	if cfg.Queue.Backend != config.QueueSQS && cfg.Lifecycle.SNSTopicARN == "" {
		return nil, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Queue.AWSRegion)}
	// Local emulators accept any static credentials.
	if cfg.Queue.SQSEndpoint != "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &awsCfg, nil
}

func newQueue(cfg config.Config, awsCfg *aws.Config, rc *goredis.Client, logger *slog.Logger) (outbound.CommandQueue, error) {
	switch cfg.Queue.Backend {
	case config.QueueSQS:
		var optFns []func(*awssqs.Options)
		if cfg.Queue.SQSEndpoint != "" {
			optFns = append(optFns, func(o *awssqs.Options) {
				o.BaseEndpoint = aws.String(cfg.Queue.SQSEndpoint)
			})
		}
		queue, err := sqsadapter.NewQueue(*awsCfg, sqsadapter.Config{QueueURL: cfg.Queue.SQSQueueURL}, logger, optFns...)
		if err != nil {
			return nil, fmt.Errorf("creating SQS queue: %w", err)
		}
		logger.Info("SQS command queue created", "queueURL", cfg.Queue.SQSQueueURL)
		return queue, nil
	default:
		// The queue shares the client with the lease backend; run closes it.
		queue, err := redisadapter.NewQueue(rc, redisadapter.QueueConfig{Key: cfg.Queue.RedisKey}, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("creating Redis queue: %w", err)
		}
		logger.Info("Redis command queue created", "key", cfg.Queue.RedisKey)
		return queue, nil
	}
}

func newLeaseBackend(ctx context.Context, cfg config.Config, rc *goredis.Client, logger *slog.Logger) (outbound.LeaseBackend, func(), error) {
	switch cfg.Lease.Backend {
	case config.LeasePostgres:
		pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		backend, err := postgres.NewLeaseBackend(pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("creating Postgres lease backend: %w", err)
		}
		if err := backend.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		janitorCtx, stopJanitor := context.WithCancel(ctx)
		go backend.RunJanitor(janitorCtx, janitorInterval)
		logger.Info("PostgreSQL lease backend ready")
		return backend, func() { stopJanitor(); pool.Close() }, nil
	case config.LeaseMemory:
		logger.Warn("using in-process lease backend; duplicates are only suppressed within this process")
		return memory.NewLeaseBackend(nil), func() {}, nil
	default:
		backend, err := redisadapter.NewLeaseBackend(rc, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating Redis lease backend: %w", err)
		}
		return backend, func() {}, nil
	}
}

func newReporter(cfg config.Config, awsCfg *aws.Config, logger *slog.Logger) (outbound.LifecycleReporter, func(), error) {
	client, err := lifecycle.NewClient(lifecycle.Config{
		APIBase:        cfg.Lifecycle.APIBase,
		APIKey:         cfg.Lifecycle.APIKey,
		BearerToken:    cfg.Lifecycle.BearerToken,
		MaxAttempts:    cfg.Lifecycle.MaxAttempts,
		InitialBackoff: cfg.Lifecycle.InitialBackoff,
		Timeout:        cfg.Lifecycle.Timeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating lifecycle client: %w", err)
	}
	logger.Info("lifecycle client created", "endpoint", client.Endpoint())

	if cfg.Lifecycle.SNSTopicARN == "" {
		return client, func() {}, nil
	}
	mirror, err := snsadapter.NewLifecycleMirror(awssns.NewFromConfig(*awsCfg), snsadapter.Config{
		TopicARN:  cfg.Lifecycle.SNSTopicARN,
		AccountID: cfg.AccountID,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating SNS lifecycle mirror: %w", err)
	}
	logger.Info("lifecycle events mirrored to SNS", "topicARN", cfg.Lifecycle.SNSTopicARN)
	return lifecycle.NewTee(client, logger, mirror), func() { _ = mirror.Close() }, nil
}

func newGateway(cfg config.Config, logger *slog.Logger) (outbound.ExecutionGateway, error) {
	mode := gateway.Mode{DryRun: cfg.Execution.DryRun, LiveEnabled: cfg.Execution.LiveTradingEnabled}
	creds := gateway.Credentials{
		Login:        cfg.MT5.Login,
		Password:     cfg.MT5.Password,
		Server:       cfg.MT5.Server,
		TerminalPath: cfg.MT5.TerminalPath,
	}

	var terminal outbound.Terminal
	if mode.Live() {
		bridge, err := mt5bridge.New(mt5bridge.Config{Addr: cfg.MT5.BridgeAddr, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("creating MT5 bridge terminal: %w", err)
		}
		terminal = bridge
	}

	gw, err := gateway.New(mode, terminal, creds, logger)
	if err != nil {
		return nil, fmt.Errorf("creating gateway: %w", err)
	}
	logger.Info("execution gateway ready", "gateway", gw.Name())
	return gw, nil
}

// gatewayDetails exposes the gateway's state on /health.
func gatewayDetails(gw outbound.ExecutionGateway) func() map[string]any {
	return func() map[string]any {
		details := map[string]any{"gateway": gw.Name()}
		if live, ok := gw.(interface{ Connected() bool }); ok {
			details["gatewayConnected"] = live.Connected()
		}
		return details
	}
}
