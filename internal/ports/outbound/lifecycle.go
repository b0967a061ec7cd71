package outbound

import (
	"context"

	"github.com/luminamt5/executor/internal/domain/entity"
)

// LifecycleReporter delivers lifecycle events downstream. Failures that
// survive retries are returned as *entity.LifecycleReportError.
type LifecycleReporter interface {
	Report(ctx context.Context, event entity.LifecycleEvent, idempotencyKey string) error
}
