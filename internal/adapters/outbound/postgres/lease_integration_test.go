//go:build integration

package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupLeaseBackend(t *testing.T) (*LeaseBackend, *pgxpool.Pool, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithSQLDriver("pgx"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := OpenPool(ctx, DefaultDBConfig(dsn))
	if err != nil {
		t.Fatalf("failed to open pool: %v", err)
	}

	backend, err := NewLeaseBackend(pool, nil)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	if err := backend.EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	// Idempotent.
	if err := backend.EnsureSchema(ctx); err != nil {
		t.Fatalf("second EnsureSchema failed: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}
	return backend, pool, cleanup
}

func TestLeaseBackend_Integration_SetIfAbsent(t *testing.T) {
	backend, _, cleanup := setupLeaseBackend(t)
	defer cleanup()
	ctx := context.Background()

	ok, err := backend.SetIfAbsent(ctx, "k", []byte("v1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected insert, got %v %v", ok, err)
	}
	ok, err = backend.SetIfAbsent(ctx, "k", []byte("v2"), time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent: %v", err)
	}
	if ok {
		t.Fatal("expected live key to refuse SetIfAbsent")
	}

	got, found, err := backend.Get(ctx, "k")
	if err != nil || !found || string(got) != "v1" {
		t.Fatalf("expected v1, got %q found=%v err=%v", got, found, err)
	}
}

func TestLeaseBackend_Integration_ExpiredRowIsTakenOver(t *testing.T) {
	backend, _, cleanup := setupLeaseBackend(t)
	defer cleanup()
	ctx := context.Background()

	if ok, err := backend.SetIfAbsent(ctx, "k", []byte("old"), 500*time.Millisecond); err != nil || !ok {
		t.Fatalf("expected insert, got %v %v", ok, err)
	}
	time.Sleep(time.Second)

	if _, found, _ := backend.Get(ctx, "k"); found {
		t.Fatal("expected expired row to be invisible")
	}
	ok, err := backend.SetIfAbsent(ctx, "k", []byte("new"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected takeover of expired row, got %v %v", ok, err)
	}
	got, _, _ := backend.Get(ctx, "k")
	if string(got) != "new" {
		t.Errorf("expected new value, got %q", got)
	}
}

func TestLeaseBackend_Integration_DeleteIfValue(t *testing.T) {
	backend, _, cleanup := setupLeaseBackend(t)
	defer cleanup()
	ctx := context.Background()

	if ok, err := backend.SetIfAbsent(ctx, "k", []byte("new"), time.Minute); err != nil || !ok {
		t.Fatalf("expected insert, got %v %v", ok, err)
	}
	deleted, err := backend.DeleteIfValue(ctx, "k", []byte("old"))
	if err != nil || deleted {
		t.Fatalf("expected stale value to leave the row, got %v %v", deleted, err)
	}
	if _, found, _ := backend.Get(ctx, "k"); !found {
		t.Fatal("expected row to survive a stale delete")
	}
	deleted, err = backend.DeleteIfValue(ctx, "k", []byte("new"))
	if err != nil || !deleted {
		t.Fatalf("expected matching value to delete, got %v %v", deleted, err)
	}
	if _, found, _ := backend.Get(ctx, "k"); found {
		t.Error("expected row to be gone")
	}
}

func TestLeaseBackend_Integration_SetDeletePurge(t *testing.T) {
	backend, pool, cleanup := setupLeaseBackend(t)
	defer cleanup()
	ctx := context.Background()

	if err := backend.Set(ctx, "k", []byte("a"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := backend.Set(ctx, "k", []byte("b"), time.Minute); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, _, _ := backend.Get(ctx, "k")
	if string(got) != "b" {
		t.Errorf("expected overwrite, got %q", got)
	}

	if err := backend.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := backend.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete of missing key: %v", err)
	}

	if err := backend.Set(ctx, "stale", []byte("x"), 100*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	n, err := backend.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}

	var rows int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM executor_leases`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 0 {
		t.Errorf("expected empty table, got %d rows", rows)
	}
}

func TestLeaseBackend_Integration_ConcurrentAcquire(t *testing.T) {
	backend, _, cleanup := setupLeaseBackend(t)
	defer cleanup()
	ctx := context.Background()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := backend.SetIfAbsent(ctx, "race", []byte("x"), time.Minute)
			if err != nil {
				t.Errorf("SetIfAbsent: %v", err)
				return
			}
			if ok {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := acquired.Load(); got != 1 {
		t.Errorf("expected exactly one acquisition, got %d", got)
	}
}
