package outbound

import (
	"context"
	"time"
)

// LeaseBackend is the key-value store the idempotency leases live in.
// All writes carry a TTL; an expired key behaves as if it were absent.
type LeaseBackend interface {
	// SetIfAbsent stores value under key only when no unexpired value exists.
	// It reports whether the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Get returns the stored value and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set unconditionally stores value under key.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteIfValue removes key only while it still holds exactly value, and
	// reports whether it did. A holder whose lease expired and was taken over
	// can therefore never release the new holder's lease.
	DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error)
}
