// Package sns mirrors lifecycle events to an AWS SNS topic.
//
// The lifecycle HTTP API stays the system of record; the mirror lets other
// consumers (risk, audit, notifications) subscribe to the same events without
// polling the API. Each message carries the stage-qualified idempotency key
// as an attribute and, on FIFO topics, as the deduplication id.
//
// Message Attributes:
//   - idempotencyKey: "<commandKey>:<stage>"
//   - stage: "command", "executed" or "failed"
//   - accountId: the executor's trading account
package sns

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/pkg/retry"
	"github.com/luminamt5/executor/internal/ports/outbound"
)

// Compile-time check that LifecycleMirror implements outbound.LifecycleReporter
var _ outbound.LifecycleReporter = (*LifecycleMirror)(nil)

// maxDeduplicationID is the SNS limit for MessageDeduplicationId.
const maxDeduplicationID = 128

// SNSPublisher defines the subset of SNS client methods used by LifecycleMirror.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS lifecycle mirror.
type Config struct {
	// TopicARN is the topic lifecycle events are published to.
	TopicARN string

	// AccountID is attached to every message and used as the FIFO group id.
	AccountID string

	// MaxAttempts is the total number of publish attempts for transient failures.
	MaxAttempts int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry.
	BackoffFactor float64

	// Logger is the structured logger for the mirror.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Logger:         slog.Default(),
	}
}

// LifecycleMirror publishes lifecycle events to SNS.
type LifecycleMirror struct {
	client SNSPublisher
	config Config
	fifo   bool
	logger *slog.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewLifecycleMirror creates a new SNS lifecycle mirror.
func NewLifecycleMirror(client SNSPublisher, config Config) (*LifecycleMirror, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.MaxAttempts == 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &LifecycleMirror{
		client: client,
		config: config,
		fifo:   strings.HasSuffix(config.TopicARN, ".fifo"),
		logger: config.Logger.With("component", "sns-lifecycle-mirror"),
	}, nil
}

// Report publishes event with its stage-qualified idempotency key.
func (m *LifecycleMirror) Report(ctx context.Context, event entity.LifecycleEvent, idempotencyKey string) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return errors.New("lifecycle mirror is closed")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	attributes := map[string]types.MessageAttributeValue{
		"idempotencyKey": {
			DataType:    aws.String("String"),
			StringValue: aws.String(idempotencyKey),
		},
		"stage": {
			DataType:    aws.String("String"),
			StringValue: aws.String(stageOf(idempotencyKey)),
		},
	}
	if m.config.AccountID != "" {
		attributes["accountId"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(m.config.AccountID),
		}
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(m.config.TopicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: attributes,
	}
	if m.fifo {
		group := m.config.AccountID
		if group == "" {
			group = "executor"
		}
		input.MessageGroupId = aws.String(group)
		input.MessageDeduplicationId = aws.String(deduplicationID(idempotencyKey))
	}

	retryCfg := retry.Config{
		MaxAttempts:    m.config.MaxAttempts,
		InitialBackoff: m.config.InitialBackoff,
		MaxBackoff:     m.config.MaxBackoff,
		BackoffFactor:  m.config.BackoffFactor,
	}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		m.logger.Warn("publish failed, retrying",
			"attempt", attempt,
			"maxAttempts", m.config.MaxAttempts,
			"backoff", backoff,
			"error", err,
			"idempotencyKey", idempotencyKey,
		)
	}

	err = retry.DoVoid(ctx, retryCfg, isRetryableError, onRetry, func() error {
		_, err := m.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish lifecycle event to SNS: %w", err)
	}
	return nil
}

// stageOf returns the stage suffix of a stage-qualified key.
func stageOf(idempotencyKey string) string {
	if i := strings.LastIndexByte(idempotencyKey, ':'); i >= 0 {
		return idempotencyKey[i+1:]
	}
	return ""
}

// deduplicationID returns key, or its SHA-256 when key exceeds the SNS limit.
func deduplicationID(key string) string {
	if len(key) <= maxDeduplicationID {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// isRetryableError determines if an error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return false
	}
	var invalid *types.InvalidParameterException
	if errors.As(err, &invalid) {
		return false
	}
	var authz *types.AuthorizationErrorException
	if errors.As(err, &authz) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if strings.HasPrefix(apiErr.ErrorCode(), "Throttl") {
			return true
		}
		if apiErr.ErrorFault() == smithy.FaultClient {
			return false
		}
	}

	// Throttling, internal errors and network issues.
	return true
}

// Close marks the mirror as closed and prevents further publishing.
func (m *LifecycleMirror) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.logger.Info("SNS lifecycle mirror closed")
	})
	return nil
}
