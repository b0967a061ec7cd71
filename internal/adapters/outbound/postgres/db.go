// Package postgres provides a PostgreSQL lease backend for deployments that
// already run Postgres and would rather not add Redis.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luminamt5/executor/internal/pkg/retry"
)

// DBConfig holds configuration for the lease database pool.
type DBConfig struct {
	// URL is the PostgreSQL connection string.
	URL string

	// ApplicationName is reported to the server as application_name.
	ApplicationName string

	// MaxConns and MinConns size the pool. A sequential worker needs few.
	MaxConns int32
	MinConns int32

	// MaxConnLifetime bounds how long a connection is reused.
	MaxConnLifetime time.Duration

	// ConnectAttempts is how many pings OpenPool tries before giving up, so a
	// worker started alongside its database waits for it.
	ConnectAttempts int

	// ConnectBackoff is the delay before the second ping; it doubles after.
	ConnectBackoff time.Duration
}

// DefaultDBConfig returns a DBConfig sized for a single sequential worker.
func DefaultDBConfig(url string) DBConfig {
	return DBConfig{
		URL:             url,
		ApplicationName: "luminamt5-executor",
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		ConnectAttempts: 5,
		ConnectBackoff:  500 * time.Millisecond,
	}
}

// poolConfig turns cfg into a pgxpool configuration.
func poolConfig(cfg DBConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	if cfg.ApplicationName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 && cfg.MinConns <= pc.MaxConns {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	return pc, nil
}

// OpenPool creates the pool and waits until the database answers a ping.
// The caller closes the returned pool.
func OpenPool(ctx context.Context, cfg DBConfig) (*pgxpool.Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	err = retry.DoVoid(ctx, retry.Config{
		MaxAttempts:    cfg.ConnectAttempts,
		InitialBackoff: cfg.ConnectBackoff,
		MaxBackoff:     5 * time.Second,
	}, nil, nil, func() error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
