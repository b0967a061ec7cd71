// Package inbound contains the primary/inbound ports.
package inbound

import "context"

// CommandProcessor handles one raw payload end to end.
type CommandProcessor interface {
	Process(ctx context.Context, raw []byte) error
}

// HealthChecker defines the interface for services that can report readiness and liveness.
type HealthChecker interface {
	// IsReady returns true once the service is consuming the command queue.
	IsReady() bool

	// IsHealthy returns true while the consume loop is making progress.
	IsHealthy() bool
}
