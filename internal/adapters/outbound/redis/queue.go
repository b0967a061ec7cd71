package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luminamt5/executor/internal/ports/outbound"
)

var (
	_ outbound.CommandQueue     = (*Queue)(nil)
	_ outbound.CommandPublisher = (*Queue)(nil)
)

// QueueConfig holds configuration for the list-backed command queue.
type QueueConfig struct {
	// Key is the Redis list holding raw command payloads.
	Key string
	// BlockTimeout bounds a single BLPOP so cancellation is noticed.
	BlockTimeout time.Duration
}

// QueueConfigDefaults returns default queue configuration.
func QueueConfigDefaults() QueueConfig {
	return QueueConfig{
		Key:          "luminamt5:commands",
		BlockTimeout: 5 * time.Second,
	}
}

// Queue is a FIFO command queue on a Redis list: producers RPUSH, the
// executor BLPOPs. Messages leave the list on Pop, so Ack is a no-op.
type Queue struct {
	client redis.Cmdable
	config QueueConfig
	closer func() error
	logger *slog.Logger
}

// NewQueue creates a queue on client. closer, if non-nil, is called by Close.
func NewQueue(client redis.Cmdable, config QueueConfig, closer func() error, logger *slog.Logger) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	defaults := QueueConfigDefaults()
	if config.Key == "" {
		config.Key = defaults.Key
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = defaults.BlockTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		client: client,
		config: config,
		closer: closer,
		logger: logger.With("component", "redis-queue", "key", config.Key),
	}, nil
}

// Pop blocks on BLPOP until a payload arrives or ctx is cancelled.
func (q *Queue) Pop(ctx context.Context) (outbound.QueueMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return outbound.QueueMessage{}, err
		}

		res, err := q.client.BLPop(ctx, q.config.BlockTimeout, q.config.Key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return outbound.QueueMessage{}, ctxErr
			}
			if errors.Is(err, redis.ErrClosed) {
				return outbound.QueueMessage{}, outbound.ErrQueueClosed
			}
			return outbound.QueueMessage{}, fmt.Errorf("redis blpop: %w", err)
		}
		if len(res) != 2 {
			return outbound.QueueMessage{}, fmt.Errorf("redis blpop: unexpected reply length %d", len(res))
		}
		return outbound.QueueMessage{Body: []byte(res[1])}, nil
	}
}

// Ack is a no-op; BLPOP already removed the message.
func (q *Queue) Ack(context.Context, outbound.QueueMessage) error {
	return nil
}

// Push appends body to the tail of the list.
func (q *Queue) Push(ctx context.Context, body []byte) error {
	if err := q.client.RPush(ctx, q.config.Key, body).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

// Len returns the number of pending payloads.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.config.Key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return n, nil
}

// Close calls the closer supplied at construction.
func (q *Queue) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}
