// Package main pushes raw command payloads onto the executor's command queue.
//
// Usage:
//
//	enqueue '{"type":"open","symbol":"XAUUSD","side":"buy","volume":0.1,"commandId":"c-1"}'
//	enqueue -file commands.jsonl
//	cat commands.jsonl | enqueue -backend sqs -queue https://sqs...
//
// Input files and stdin are read as JSON lines; blank lines are skipped.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	redisadapter "github.com/luminamt5/executor/internal/adapters/outbound/redis"
	sqsadapter "github.com/luminamt5/executor/internal/adapters/outbound/sqs"
	"github.com/luminamt5/executor/internal/config"
	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/pkg/env"
	"github.com/luminamt5/executor/internal/ports/outbound"
)

// maxPayloadSize bounds a single JSON line.
const maxPayloadSize = 1 << 20

func main() {
	if err := env.LoadFiles(".env", ".env.local"); err != nil {
		fmt.Fprintf(os.Stderr, "loading .env files: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	backend  string
	redisURL string
	key      string
	queueURL string
	endpoint string
	region   string
	file     string
	check    bool
	payloads []string
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	opts := options{}
	fs.StringVar(&opts.backend, "backend", env.Get("QUEUE_BACKEND", config.QueueRedis), "Queue backend: redis or sqs")
	fs.StringVar(&opts.redisURL, "redis", env.Get("REDIS_URL", "redis://localhost:6379"), "Redis URL")
	fs.StringVar(&opts.key, "key", env.Get("COMMAND_QUEUE_KEY", "luminamt5:commands"), "Redis list key")
	fs.StringVar(&opts.queueURL, "queue", os.Getenv("AWS_SQS_QUEUE_URL"), "SQS queue URL")
	fs.StringVar(&opts.endpoint, "endpoint", os.Getenv("AWS_SQS_ENDPOINT"), "SQS endpoint override")
	fs.StringVar(&opts.region, "region", env.Get("AWS_REGION", "eu-west-1"), "AWS region")
	fs.StringVar(&opts.file, "file", "", "Read JSON lines from this file instead of stdin")
	fs.BoolVar(&opts.check, "check", true, "Reject payloads the executor would discard")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.payloads = fs.Args()

	switch opts.backend {
	case config.QueueRedis:
		if opts.redisURL == "" {
			return options{}, errors.New("redis URL not provided (use -redis flag or REDIS_URL env var)")
		}
	case config.QueueSQS:
		if opts.queueURL == "" {
			return options{}, errors.New("queue URL not provided (use -queue flag or AWS_SQS_QUEUE_URL env var)")
		}
	default:
		return options{}, fmt.Errorf("unknown backend %q (want redis or sqs)", opts.backend)
	}
	if opts.file != "" && len(opts.payloads) > 0 {
		return options{}, errors.New("-file and positional payloads are mutually exclusive")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdin io.Reader) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	payloads, err := collectPayloads(opts, stdin)
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		return errors.New("no payloads to enqueue")
	}
	if opts.check {
		if err := checkPayloads(payloads); err != nil {
			return err
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: env.ParseLogLevel(slog.LevelWarn)}))

	publisher, closePublisher, err := newPublisher(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	pushed, err := publish(ctx, publisher, payloads)
	fmt.Fprintf(os.Stdout, "enqueued %d/%d commands\n", pushed, len(payloads))
	return err
}

func collectPayloads(opts options, stdin io.Reader) ([][]byte, error) {
	if len(opts.payloads) > 0 {
		out := make([][]byte, 0, len(opts.payloads))
		for _, p := range opts.payloads {
			out = append(out, []byte(p))
		}
		return out, nil
	}
	if opts.file != "" {
		f, err := os.Open(opts.file)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", opts.file, err)
		}
		defer f.Close()
		return readLines(f)
	}
	return readLines(stdin)
}

// readLines returns every non-blank line of r.
func readLines(r io.Reader) ([][]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxPayloadSize)
	var out [][]byte
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out = append(out, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading payloads: %w", err)
	}
	return out, nil
}

// checkPayloads rejects payloads the executor would acknowledge and drop.
func checkPayloads(payloads [][]byte) error {
	var errs []error
	for i, raw := range payloads {
		cmd, err := entity.ParseCommand(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("payload %d: %w", i+1, err))
			continue
		}
		if unknown, ok := cmd.(*entity.UnknownCommand); ok {
			errs = append(errs, fmt.Errorf("payload %d: unsupported command type %q", i+1, unknown.OriginalType))
		}
	}
	return errors.Join(errs...)
}

func publish(ctx context.Context, publisher outbound.CommandPublisher, payloads [][]byte) (int, error) {
	for i, raw := range payloads {
		if err := publisher.Push(ctx, raw); err != nil {
			return i, fmt.Errorf("pushing payload %d: %w", i+1, err)
		}
	}
	return len(payloads), nil
}

func newPublisher(ctx context.Context, opts options, logger *slog.Logger) (outbound.CommandPublisher, func(), error) {
	if opts.backend == config.QueueSQS {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.region)}
		if opts.endpoint != "" && os.Getenv("AWS_ACCESS_KEY_ID") == "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS config: %w", err)
		}
		var optFns []func(*awssqs.Options)
		if opts.endpoint != "" {
			optFns = append(optFns, func(o *awssqs.Options) {
				o.BaseEndpoint = aws.String(opts.endpoint)
			})
		}
		queue, err := sqsadapter.NewQueue(awsCfg, sqsadapter.Config{QueueURL: opts.queueURL}, logger, optFns...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating SQS queue: %w", err)
		}
		return queue, func() { _ = queue.Close() }, nil
	}

	client, err := redisadapter.NewClient(redisadapter.Config{URL: opts.redisURL})
	if err != nil {
		return nil, nil, fmt.Errorf("creating redis client: %w", err)
	}
	queue, err := redisadapter.NewQueue(client, redisadapter.QueueConfig{Key: opts.key}, client.Close, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("creating Redis queue: %w", err)
	}
	return queue, func() { _ = queue.Close() }, nil
}
