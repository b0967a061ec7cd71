package entity

import "time"

// Meta is the free-form result metadata stored with a completed lease.
type Meta map[string]any

// LeaseState is the persisted state of an idempotency key.
type LeaseState string

const (
	LeaseAbsent     LeaseState = "absent"
	LeaseProcessing LeaseState = "processing"
	LeaseCompleted  LeaseState = "completed"
)

// LeaseOutcome is the result of trying to begin processing a key. Duplicates
// and in-flight keys are ordinary outcomes, not errors.
type LeaseOutcome int

const (
	// LeaseAcquired means this worker now owns the processing lease.
	LeaseAcquired LeaseOutcome = iota + 1
	// LeaseAlreadyProcessed means a completed record exists; nothing to do.
	LeaseAlreadyProcessed
	// LeaseInFlightElsewhere means another worker holds an unexpired lease.
	LeaseInFlightElsewhere
)

func (o LeaseOutcome) String() string {
	switch o {
	case LeaseAcquired:
		return "acquired"
	case LeaseAlreadyProcessed:
		return "already_processed"
	case LeaseInFlightElsewhere:
		return "in_flight_elsewhere"
	default:
		return "unknown"
	}
}

// Acquired reports whether the caller owns the lease.
func (o LeaseOutcome) Acquired() bool { return o == LeaseAcquired }

// AlreadyProcessed reports whether the key has already completed.
func (o LeaseOutcome) AlreadyProcessed() bool { return o == LeaseAlreadyProcessed }

// State is the record state observed (or created) by Begin.
func (o LeaseOutcome) State() LeaseState {
	if o == LeaseAlreadyProcessed {
		return LeaseCompleted
	}
	return LeaseProcessing
}

// LeaseRecord is the JSON document stored under a lease key.
type LeaseRecord struct {
	Status      LeaseState `json:"status"`
	Meta        Meta       `json:"meta,omitempty"`
	Owner       string     `json:"owner,omitempty"`
	Token       string     `json:"token,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
