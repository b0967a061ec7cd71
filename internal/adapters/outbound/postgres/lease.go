package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luminamt5/executor/internal/ports/outbound"
)

// Compile-time check that LeaseBackend implements outbound.LeaseBackend
var _ outbound.LeaseBackend = (*LeaseBackend)(nil)

//go:embed schema.sql
var schemaSQL string

// Expiry is evaluated with the database clock so that workers with skewed
// clocks agree on when a lease lapses.
const (
	setIfAbsentSQL = `
		INSERT INTO executor_leases (lease_key, value, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (lease_key) DO UPDATE
			SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
			WHERE executor_leases.expires_at <= now()
		RETURNING lease_key`

	getSQL = `SELECT value FROM executor_leases WHERE lease_key = $1 AND expires_at > now()`

	setSQL = `
		INSERT INTO executor_leases (lease_key, value, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (lease_key) DO UPDATE
			SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`

	deleteSQL = `DELETE FROM executor_leases WHERE lease_key = $1`

	deleteIfValueSQL = `DELETE FROM executor_leases WHERE lease_key = $1 AND value = $2 AND expires_at > now()`

	purgeSQL = `DELETE FROM executor_leases WHERE expires_at <= now()`
)

// LeaseBackend stores idempotency leases in the executor_leases table.
type LeaseBackend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewLeaseBackend creates a lease backend on an open pool.
func NewLeaseBackend(pool *pgxpool.Pool, logger *slog.Logger) (*LeaseBackend, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseBackend{
		pool:   pool,
		logger: logger.With("component", "postgres-lease"),
	}, nil
}

// EnsureSchema creates the lease table if it does not exist.
func (b *LeaseBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating lease schema: %w", err)
	}
	return nil
}

// SetIfAbsent inserts the lease, or takes over an expired row, in one statement.
func (b *LeaseBackend) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var got string
	err := b.pool.QueryRow(ctx, setIfAbsentSQL, key, value, ttl.Seconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting lease: %w", err)
	}
	return true, nil
}

func (b *LeaseBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.pool.QueryRow(ctx, getSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading lease: %w", err)
	}
	return value, true, nil
}

func (b *LeaseBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := b.pool.Exec(ctx, setSQL, key, value, ttl.Seconds()); err != nil {
		return fmt.Errorf("writing lease: %w", err)
	}
	return nil
}

func (b *LeaseBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.pool.Exec(ctx, deleteSQL, key); err != nil {
		return fmt.Errorf("deleting lease: %w", err)
	}
	return nil
}

func (b *LeaseBackend) DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error) {
	tag, err := b.pool.Exec(ctx, deleteIfValueSQL, key, value)
	if err != nil {
		return false, fmt.Errorf("deleting lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
// Expired rows are already invisible to the protocol; this only reclaims space.
func (b *LeaseBackend) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := b.pool.Exec(ctx, purgeSQL)
	if err != nil {
		return 0, fmt.Errorf("purging expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunJanitor calls PurgeExpired every interval until ctx is cancelled.
func (b *LeaseBackend) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := b.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Warn("lease purge failed", "error", err)
				}
				continue
			}
			if n > 0 {
				b.logger.Debug("purged expired leases", "count", n)
			}
		}
	}
}
