package lifecycle

import (
	"context"
	"log/slog"

	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/ports/outbound"
)

var _ outbound.LifecycleReporter = (*Tee)(nil)

// Tee sends each event to a primary reporter and then to best-effort mirrors.
// Only the primary's error is returned; mirror failures are logged.
type Tee struct {
	primary outbound.LifecycleReporter
	mirrors []outbound.LifecycleReporter
	logger  *slog.Logger
}

// NewTee creates a Tee. With no mirrors it behaves exactly like primary.
func NewTee(primary outbound.LifecycleReporter, logger *slog.Logger, mirrors ...outbound.LifecycleReporter) *Tee {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tee{
		primary: primary,
		mirrors: mirrors,
		logger:  logger.With("component", "lifecycle-tee"),
	}
}

func (t *Tee) Report(ctx context.Context, event entity.LifecycleEvent, idempotencyKey string) error {
	err := t.primary.Report(ctx, event, idempotencyKey)

	for _, mirror := range t.mirrors {
		if mirrorErr := mirror.Report(ctx, event, idempotencyKey); mirrorErr != nil {
			t.logger.Warn("lifecycle mirror failed", "idempotencyKey", idempotencyKey, "error", mirrorErr)
		}
	}

	return err
}
