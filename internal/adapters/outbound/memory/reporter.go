package memory

import (
	"context"
	"sync"

	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/ports/outbound"
)

var _ outbound.LifecycleReporter = (*Reporter)(nil)

// Report is one lifecycle event captured by Reporter.
type Report struct {
	Event          entity.LifecycleEvent
	IdempotencyKey string
}

// Reporter records lifecycle events instead of sending them.
type Reporter struct {
	mu      sync.Mutex
	reports []Report

	// Err, when set, is returned from every Report call after recording.
	Err error
}

// NewReporter creates an empty recording reporter.
func NewReporter() *Reporter {
	return &Reporter{}
}

func (r *Reporter) Report(_ context.Context, event entity.LifecycleEvent, idempotencyKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Event: event, IdempotencyKey: idempotencyKey})
	return r.Err
}

// Reports returns the events recorded so far.
func (r *Reporter) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...)
}
