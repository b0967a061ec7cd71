// Package idempotency implements the lease protocol that keeps a command's
// side effects to at most one execution across workers.
//
// A key moves absent -> processing (Begin) -> completed (Complete), or back to
// absent through Fail or TTL expiry. The only cross-worker coordination is the
// backend's atomic SetIfAbsent.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/ports/outbound"
)

// beginAttempts bounds how often Begin retries when a record vanishes between
// the failed SetIfAbsent and the following Get.
const beginAttempts = 3

// ErrLeaseNotHeld is returned when failing a lease Begin did not acquire.
var ErrLeaseNotHeld = errors.New("lease not held")

// Config holds configuration for the lease store.
type Config struct {
	// Prefix is the first segment of every lease key.
	Prefix string

	// AccountID scopes keys to one trading account.
	AccountID string

	// ProcessingTTL bounds how long a crashed worker can hold a lease.
	ProcessingTTL time.Duration

	// CompletedTTL is the duplicate suppression window.
	CompletedTTL time.Duration

	// Owner is recorded on processing leases (typically hostname:pid).
	Owner string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		Prefix:        "luminamt5:idempotency",
		AccountID:     "demo-account",
		ProcessingTTL: 120 * time.Second,
		CompletedTTL:  7 * 24 * time.Hour,
		Now:           time.Now,
		Logger:        slog.Default(),
	}
}

// Lease is what Begin observed or took for one key. An acquired lease carries
// the exact record written, which Fail uses to release only its own lease.
type Lease struct {
	Key     string
	Outcome entity.LeaseOutcome

	record []byte
}

// Acquired reports whether the caller owns the lease.
func (l Lease) Acquired() bool { return l.Outcome.Acquired() }

// AlreadyProcessed reports whether the key has already completed.
func (l Lease) AlreadyProcessed() bool { return l.Outcome.AlreadyProcessed() }

func (l Lease) String() string { return l.Outcome.String() }

// Store drives the lease protocol against a LeaseBackend.
type Store struct {
	backend outbound.LeaseBackend
	config  Config
	logger  *slog.Logger
}

// NewStore creates a lease store. Zero-valued config fields take their defaults.
func NewStore(backend outbound.LeaseBackend, config Config) (*Store, error) {
	if backend == nil {
		return nil, errors.New("lease backend is required")
	}

	defaults := ConfigDefaults()
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	if config.AccountID == "" {
		config.AccountID = defaults.AccountID
	}
	if config.ProcessingTTL <= 0 {
		config.ProcessingTTL = defaults.ProcessingTTL
	}
	if config.CompletedTTL <= 0 {
		config.CompletedTTL = defaults.CompletedTTL
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Store{
		backend: backend,
		config:  config,
		logger:  config.Logger.With("component", "idempotency-store"),
	}, nil
}

// Key returns the backend key for an idempotency key.
func (s *Store) Key(idempotencyKey string) string {
	return fmt.Sprintf("%s:%s:%s", s.config.Prefix, s.config.AccountID, idempotencyKey)
}

// Begin tries to take the processing lease for idempotencyKey. Each call
// writes a fresh token, so two acquisitions of one key never share a record.
func (s *Store) Begin(ctx context.Context, idempotencyKey string) (Lease, error) {
	lease := Lease{Key: idempotencyKey}
	key := s.Key(idempotencyKey)
	now := s.config.Now().UTC()
	record, err := json.Marshal(entity.LeaseRecord{
		Status:    entity.LeaseProcessing,
		Owner:     s.config.Owner,
		Token:     uuid.NewString(),
		CreatedAt: &now,
	})
	if err != nil {
		return lease, fmt.Errorf("encoding processing lease: %w", err)
	}

	for attempt := 1; attempt <= beginAttempts; attempt++ {
		acquired, err := s.backend.SetIfAbsent(ctx, key, record, s.config.ProcessingTTL)
		if err != nil {
			return lease, fmt.Errorf("acquiring lease %s: %w", key, err)
		}
		if acquired {
			lease.Outcome = entity.LeaseAcquired
			lease.record = record
			return lease, nil
		}

		existing, found, err := s.backend.Get(ctx, key)
		if err != nil {
			return lease, fmt.Errorf("reading lease %s: %w", key, err)
		}
		if !found {
			// Expired or failed between the two calls; race for it again.
			continue
		}
		lease.Outcome = s.classify(key, existing)
		return lease, nil
	}

	lease.Outcome = entity.LeaseInFlightElsewhere
	return lease, nil
}

func (s *Store) classify(key string, raw []byte) entity.LeaseOutcome {
	var existing entity.LeaseRecord
	if err := json.Unmarshal(raw, &existing); err != nil {
		s.logger.Warn("unreadable lease record, treating as in flight", "key", key, "error", err)
		return entity.LeaseInFlightElsewhere
	}
	if existing.Status == entity.LeaseCompleted {
		return entity.LeaseAlreadyProcessed
	}
	return entity.LeaseInFlightElsewhere
}

// Complete marks idempotencyKey as completed with optional result metadata.
// It overwrites whatever record exists.
func (s *Store) Complete(ctx context.Context, idempotencyKey string, meta entity.Meta) error {
	key := s.Key(idempotencyKey)
	now := s.config.Now().UTC()
	record, err := json.Marshal(entity.LeaseRecord{
		Status:      entity.LeaseCompleted,
		Meta:        meta,
		CompletedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("encoding completed lease: %w", err)
	}
	if err := s.backend.Set(ctx, key, record, s.config.CompletedTTL); err != nil {
		return fmt.Errorf("completing lease %s: %w", key, err)
	}
	return nil
}

// Fail releases an acquired lease so a later delivery can retry it. When the
// lease expired and another worker took the key over, the other worker's
// lease is left alone and Fail only logs.
func (s *Store) Fail(ctx context.Context, lease Lease) error {
	if !lease.Acquired() {
		return fmt.Errorf("releasing lease %s: %w", lease.Key, ErrLeaseNotHeld)
	}
	key := s.Key(lease.Key)
	released, err := s.backend.DeleteIfValue(ctx, key, lease.record)
	if err != nil {
		return fmt.Errorf("releasing lease %s: %w", key, err)
	}
	if !released {
		s.logger.Warn("lease no longer held, leaving it to its current holder", "key", key)
	}
	return nil
}

// Lookup returns the current record for idempotencyKey, or nil when absent.
func (s *Store) Lookup(ctx context.Context, idempotencyKey string) (*entity.LeaseRecord, error) {
	key := s.Key(idempotencyKey)
	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading lease %s: %w", key, err)
	}
	if !found {
		return nil, nil
	}
	var record entity.LeaseRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decoding lease %s: %w", key, err)
	}
	return &record, nil
}
