// Package redis provides Redis implementations of the lease backend and the
// command queue.
//
// Leases are plain string keys written with SET NX EX so that acquisition is
// a single atomic command. The command queue is a Redis list consumed with
// BLPOP.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	// URL is a redis:// or rediss:// URL. When set it takes precedence over
	// Addr, Password and DB.
	URL string
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
}

// ConfigDefaults returns sensible defaults for Redis configuration.
func ConfigDefaults() Config {
	return Config{
		URL: "redis://localhost:6379",
	}
}

// NewClient builds a go-redis client from cfg.
func NewClient(cfg Config) (*redis.Client, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
