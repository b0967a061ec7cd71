package outbound

import (
	"context"
	"time"

	"github.com/luminamt5/executor/internal/domain/entity"
)

// Command outcomes recorded by ExecutorMetrics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeDiscarded = "discarded"
)

// ExecutorMetrics records executor metrics without tying the services to a
// telemetry implementation.
type ExecutorMetrics interface {
	// RecordCommand records a processed command, how it ended and how long it took.
	RecordCommand(ctx context.Context, kind entity.CommandKind, outcome string, duration time.Duration)

	// RecordLeaseOutcome records the result of a lease acquisition attempt.
	RecordLeaseOutcome(ctx context.Context, outcome entity.LeaseOutcome)

	// RecordLifecycleReport records whether a lifecycle stage was delivered.
	RecordLifecycleReport(ctx context.Context, stage string, ok bool)
}
