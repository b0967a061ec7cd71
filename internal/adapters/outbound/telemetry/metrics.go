package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/ports/outbound"
)

var _ outbound.ExecutorMetrics = (*ExecutorMetrics)(nil)

const instrumentationName = "github.com/luminamt5/executor/internal/services/executor"

// ExecutorMetrics implements outbound.ExecutorMetrics using OpenTelemetry.
type ExecutorMetrics struct {
	commands          metric.Int64Counter
	processingLatency metric.Float64Histogram
	leaseOutcomes     metric.Int64Counter
	lifecycleReports  metric.Int64Counter
}

// NewExecutorMetrics creates a recorder on the global meter provider.
func NewExecutorMetrics() (*ExecutorMetrics, error) {
	return NewExecutorMetricsWithProvider(otel.GetMeterProvider())
}

// NewExecutorMetricsWithProvider creates a recorder on mp.
func NewExecutorMetricsWithProvider(mp metric.MeterProvider) (*ExecutorMetrics, error) {
	meter := mp.Meter(instrumentationName)

	commands, err := meter.Int64Counter(
		"executor.commands.total",
		metric.WithDescription("Commands taken off the queue, by type and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor.commands.total counter: %w", err)
	}

	latency, err := meter.Float64Histogram(
		"executor.command.duration",
		metric.WithDescription("Time taken to process one command"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor.command.duration histogram: %w", err)
	}

	leases, err := meter.Int64Counter(
		"executor.lease.outcomes.total",
		metric.WithDescription("Lease acquisition attempts, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor.lease.outcomes.total counter: %w", err)
	}

	reports, err := meter.Int64Counter(
		"executor.lifecycle.reports.total",
		metric.WithDescription("Lifecycle reports sent to the API, by stage and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor.lifecycle.reports.total counter: %w", err)
	}

	return &ExecutorMetrics{
		commands:          commands,
		processingLatency: latency,
		leaseOutcomes:     leases,
		lifecycleReports:  reports,
	}, nil
}

func (m *ExecutorMetrics) RecordCommand(ctx context.Context, kind entity.CommandKind, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("command.type", string(kind)),
		attribute.String("outcome", outcome),
	)
	m.commands.Add(ctx, 1, attrs)
	m.processingLatency.Record(ctx, duration.Seconds(), attrs)
}

func (m *ExecutorMetrics) RecordLeaseOutcome(ctx context.Context, outcome entity.LeaseOutcome) {
	m.leaseOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
}

func (m *ExecutorMetrics) RecordLifecycleReport(ctx context.Context, stage string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.lifecycleReports.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("result", result),
	))
}
