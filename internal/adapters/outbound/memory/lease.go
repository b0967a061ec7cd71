// Package memory provides in-process implementations of the outbound ports
// for local development and tests.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/luminamt5/executor/internal/ports/outbound"
)

var _ outbound.LeaseBackend = (*LeaseBackend)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// LeaseBackend is a mutex-guarded map with per-key expiry. It is only shared
// between workers in the same process.
type LeaseBackend struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewLeaseBackend creates an empty backend. A nil clock means time.Now.
func NewLeaseBackend(now func() time.Time) *LeaseBackend {
	if now == nil {
		now = time.Now
	}
	return &LeaseBackend{
		entries: make(map[string]entry),
		now:     now,
	}
}

// live returns the unexpired entry for key, evicting it if expired.
// Callers must hold mu.
func (b *LeaseBackend) live(key string) (entry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return entry{}, false
	}
	if !b.now().Before(e.expiresAt) {
		delete(b.entries, key)
		return entry{}, false
	}
	return e, true
}

func (b *LeaseBackend) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.live(key); ok {
		return false, nil
	}
	b.entries[key] = entry{value: clone(value), expiresAt: b.now().Add(ttl)}
	return true, nil
}

func (b *LeaseBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.live(key)
	if !ok {
		return nil, false, nil
	}
	return clone(e.value), true, nil
}

func (b *LeaseBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[key] = entry{value: clone(value), expiresAt: b.now().Add(ttl)}
	return nil
}

func (b *LeaseBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, key)
	return nil
}

func (b *LeaseBackend) DeleteIfValue(_ context.Context, key string, value []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.live(key)
	if !ok || !bytes.Equal(e.value, value) {
		return false, nil
	}
	delete(b.entries, key)
	return true, nil
}

// TTL returns the remaining lifetime of key, or zero if it is absent.
func (b *LeaseBackend) TTL(key string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.live(key)
	if !ok {
		return 0
	}
	return e.expiresAt.Sub(b.now())
}

// Len returns the number of unexpired keys.
func (b *LeaseBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for key := range b.entries {
		if _, ok := b.live(key); ok {
			n++
		}
	}
	return n
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
