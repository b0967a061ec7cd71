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

// Compile-time check that LeaseBackend implements outbound.LeaseBackend
var _ outbound.LeaseBackend = (*LeaseBackend)(nil)

// deleteIfValueScript deletes KEYS[1] only when it still holds ARGV[1].
const deleteIfValueScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// LeaseBackend stores idempotency leases as Redis strings with expiry.
type LeaseBackend struct {
	client redis.Cmdable
	logger *slog.Logger
}

// NewLeaseBackend creates a lease backend on an existing client.
func NewLeaseBackend(client redis.Cmdable, logger *slog.Logger) (*LeaseBackend, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseBackend{
		client: client,
		logger: logger.With("component", "redis-lease"),
	}, nil
}

// SetIfAbsent issues SET key value NX EX ttl.
func (b *LeaseBackend) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis set nx: %w", err)
	}
	return ok, nil
}

func (b *LeaseBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

func (b *LeaseBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (b *LeaseBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteIfValue runs GET and DEL in one Lua script so no other client can
// write between the comparison and the delete.
func (b *LeaseBackend) DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := b.client.Eval(ctx, deleteIfValueScript, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare and delete: %w", err)
	}
	return n == 1, nil
}
