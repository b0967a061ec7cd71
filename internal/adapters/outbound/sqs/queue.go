// Package sqs provides an SQS implementation of the command queue.
//
// Messages stay on the queue until Ack deletes them. A message that is popped
// but never acknowledged reappears after the queue's visibility timeout, which
// is how a command whose lease was failed gets its next delivery.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/luminamt5/executor/internal/ports/outbound"
)

// sqsAPI defines the subset of SQS operations needed by the Queue.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var (
	_ outbound.CommandQueue     = (*Queue)(nil)
	_ outbound.CommandPublisher = (*Queue)(nil)
)

// Config holds SQS queue configuration.
type Config struct {
	// QueueURL is the URL of the SQS queue holding commands.
	QueueURL string

	// WaitTimeSeconds is how long to wait for messages (long polling).
	// Max is 20 seconds.
	WaitTimeSeconds int32

	// VisibilityTimeout, when non-zero, overrides the queue's visibility
	// timeout for received messages (seconds).
	VisibilityTimeout int32

	// MessageGroupID is required when sending to a FIFO queue.
	MessageGroupID string
}

// ConfigDefaults returns sensible defaults for SQS queue configuration.
func ConfigDefaults() Config {
	return Config{
		WaitTimeSeconds: 20,
	}
}

// Queue is an SQS implementation of outbound.CommandQueue.
type Queue struct {
	client sqsAPI
	config Config
	logger *slog.Logger
}

// NewQueue creates a new SQS command queue.
func NewQueue(cfg aws.Config, queueConfig Config, logger *slog.Logger, optFns ...func(*sqs.Options)) (*Queue, error) {
	return newQueue(sqs.NewFromConfig(cfg, optFns...), queueConfig, logger)
}

func newQueue(client sqsAPI, queueConfig Config, logger *slog.Logger) (*Queue, error) {
	if queueConfig.QueueURL == "" {
		return nil, fmt.Errorf("queue URL is required")
	}
	if client == nil {
		return nil, errors.New("sqs client is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	defaults := ConfigDefaults()
	if queueConfig.WaitTimeSeconds == 0 {
		queueConfig.WaitTimeSeconds = defaults.WaitTimeSeconds
	}

	return &Queue{
		client: client,
		config: queueConfig,
		logger: logger.With("component", "sqs-queue"),
	}, nil
}

// Pop long-polls until one message is received or ctx is cancelled.
func (q *Queue) Pop(ctx context.Context) (outbound.QueueMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return outbound.QueueMessage{}, err
		}

		input := &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.config.QueueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     q.config.WaitTimeSeconds,
		}
		if q.config.VisibilityTimeout > 0 {
			input.VisibilityTimeout = q.config.VisibilityTimeout
		}

		result, err := q.client.ReceiveMessage(ctx, input)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return outbound.QueueMessage{}, ctxErr
			}
			return outbound.QueueMessage{}, fmt.Errorf("failed to receive messages: %w", err)
		}

		for _, msg := range result.Messages {
			if msg.MessageId == nil || msg.ReceiptHandle == nil || msg.Body == nil {
				continue
			}
			return outbound.QueueMessage{
				ID:      *msg.MessageId,
				Receipt: *msg.ReceiptHandle,
				Body:    []byte(*msg.Body),
			}, nil
		}
	}
}

// Ack deletes the message from the queue.
func (q *Queue) Ack(ctx context.Context, msg outbound.QueueMessage) error {
	if msg.Receipt == "" {
		return errors.New("message has no receipt handle")
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.config.QueueURL),
		ReceiptHandle: aws.String(msg.Receipt),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Push sends body to the queue.
func (q *Queue) Push(ctx context.Context, body []byte) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.config.QueueURL),
		MessageBody: aws.String(string(body)),
	}
	if q.config.MessageGroupID != "" {
		input.MessageGroupId = aws.String(q.config.MessageGroupID)
	}
	out, err := q.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	q.logger.Debug("command sent", "messageId", aws.ToString(out.MessageId))
	return nil
}

// Close is a no-op for SQS.
func (q *Queue) Close() error {
	return nil
}
