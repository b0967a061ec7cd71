// Package executor is the worker loop: it pops raw commands off the queue,
// takes an idempotency lease, dispatches the command to the execution
// gateway and reports the outcome to the lifecycle API.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/ports/inbound"
	"github.com/luminamt5/executor/internal/ports/outbound"
	"github.com/luminamt5/executor/internal/services/idempotency"
)

const tracerName = "github.com/luminamt5/executor/internal/services/executor"

// kindInvalid labels payloads that never parsed into a command.
const kindInvalid entity.CommandKind = "invalid"

var (
	_ inbound.CommandProcessor = (*Service)(nil)
	_ inbound.HealthChecker    = (*Service)(nil)
)

// Config holds configuration for the executor service.
type Config struct {
	// AccountID is the trading account the lifecycle reports are filed under.
	AccountID string

	// ErrorBackoff is the pause after an unexpected error before the next pop.
	ErrorBackoff time.Duration

	// StuckThreshold is how long one command may run before the service
	// reports itself unhealthy.
	StuckThreshold time.Duration

	// Metrics is the metrics recorder (optional).
	Metrics outbound.ExecutorMetrics

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		AccountID:      "demo-account",
		ErrorBackoff:   time.Second,
		StuckThreshold: 5 * time.Minute,
		Now:            time.Now,
		Logger:         slog.Default(),
	}
}

// Service runs one sequential consume loop. Several Services (in one or many
// processes) may share a queue and lease backend; the lease is the only
// coordination between them.
type Service struct {
	config   Config
	queue    outbound.CommandQueue
	leases   *idempotency.Store
	gateway  outbound.ExecutionGateway
	reporter outbound.LifecycleReporter
	metrics  outbound.ExecutorMetrics
	logger   *slog.Logger

	running   atomic.Bool
	busySince atomic.Int64

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewService creates a new executor service.
func NewService(
	config Config,
	queue outbound.CommandQueue,
	leases *idempotency.Store,
	gateway outbound.ExecutionGateway,
	reporter outbound.LifecycleReporter,
) (*Service, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if leases == nil {
		return nil, fmt.Errorf("lease store is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if reporter == nil {
		return nil, fmt.Errorf("reporter is required")
	}

	defaults := ConfigDefaults()
	if config.AccountID == "" {
		config.AccountID = defaults.AccountID
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}
	if config.StuckThreshold <= 0 {
		config.StuckThreshold = defaults.StuckThreshold
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config:   config,
		queue:    queue,
		leases:   leases,
		gateway:  gateway,
		reporter: reporter,
		metrics:  config.Metrics,
		logger:   config.Logger.With("component", "executor"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start runs the consume loop in the background until Stop is called or ctx
// is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("executor loop stopped", "error", err)
		}
	}()
	return nil
}

// Stop signals the loop to stop and waits for a loop started with Start to
// finish its current command.
func (s *Service) Stop() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	return nil
}

// Run consumes the queue until ctx is cancelled, Stop is called or the queue
// is closed. Errors from individual commands never end the loop.
func (s *Service) Run(ctx context.Context) error {
	popCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-popCtx.Done():
		}
	}()

	s.running.Store(true)
	defer s.running.Store(false)

	s.logger.Info("executor started",
		"account", s.config.AccountID,
		"gateway", s.gateway.Name(),
	)

	for {
		msg, err := s.queue.Pop(popCtx)
		if err != nil {
			switch {
			case s.stopped():
				s.logger.Info("stop signal received, executor exiting")
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, outbound.ErrQueueClosed):
				s.logger.Info("command queue closed, executor exiting")
				return nil
			}
			s.logger.Error("failed to pop command", "error", err)
			s.pause(popCtx)
			continue
		}

		// An acquired lease runs to completion; shutdown only stops the next pop.
		if err := s.ProcessMessage(context.WithoutCancel(ctx), msg); err != nil {
			s.logger.Error("command processing failed",
				"messageID", msg.ID,
				"error", err,
			)
			s.pause(popCtx)
		}
	}
}

// ProcessMessage processes one queue message and acknowledges it unless it
// failed in a way a later delivery could fix. Payloads that can never be
// processed are acknowledged and dropped; the returned error is then nil.
func (s *Service) ProcessMessage(ctx context.Context, msg outbound.QueueMessage) error {
	err := s.Process(ctx, msg.Body)
	if err != nil && !entity.IsDiscardable(err) {
		return err
	}
	if err != nil {
		s.logger.Warn("discarding invalid command", "messageID", msg.ID, "error", err)
	}
	if ackErr := s.queue.Ack(ctx, msg); ackErr != nil {
		s.logger.Error("failed to acknowledge message", "messageID", msg.ID, "error", ackErr)
	}
	return nil
}

// Process runs one raw payload through parse, lease, dispatch and report.
func (s *Service) Process(ctx context.Context, raw []byte) error {
	start := s.config.Now()
	s.busySince.Store(start.UnixNano())
	defer s.busySince.Store(0)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "executor.processCommand",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	cmd, err := entity.ParseCommand(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid command")
		s.recordCommand(ctx, kindInvalid, outbound.OutcomeDiscarded, start)
		return err
	}

	key := entity.ResolveIdempotencyKey(cmd, raw)
	logger := s.logger.With("commandType", cmd.Kind(), "idempotencyKey", key)
	span.SetAttributes(
		attribute.String("command.type", string(cmd.Kind())),
		attribute.String("command.idempotency_key", key),
	)

	lease, err := s.leases.Begin(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lease begin failed")
		s.recordCommand(ctx, cmd.Kind(), outbound.OutcomeFailed, start)
		return fmt.Errorf("beginning lease for %s: %w", key, err)
	}
	if s.metrics != nil {
		s.metrics.RecordLeaseOutcome(ctx, lease.Outcome)
	}
	span.SetAttributes(attribute.String("lease.outcome", lease.String()))
	if !lease.Acquired() {
		logger.Info("skipping command", "lease", lease.String())
		s.recordCommand(ctx, cmd.Kind(), outbound.OutcomeSkipped, start)
		return nil
	}

	d := &dispatch{svc: s, key: key, logger: logger}
	meta, err := d.run(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "command failed")
		s.recordCommand(ctx, cmd.Kind(), outbound.OutcomeFailed, start)
		if failErr := s.leases.Fail(ctx, lease); failErr != nil {
			logger.Error("failed to release lease", "error", failErr)
			return errors.Join(err, failErr)
		}
		return err
	}

	// The lease is completed before reporting so a crash during the report's
	// backoff cannot re-execute the order. The side effect already happened,
	// so its report goes out even when Complete fails.
	if err := s.leases.Complete(ctx, key, meta); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lease complete failed")
		s.recordCommand(ctx, cmd.Kind(), outbound.OutcomeFailed, start)
		if d.report != nil {
			s.report(ctx, logger, d.report.event, d.report.stage, key)
		}
		return fmt.Errorf("completing lease for %s: %w", key, err)
	}

	if d.report != nil {
		s.report(ctx, logger, d.report.event, d.report.stage, key)
	}

	logger.Info("command completed", "duration", s.config.Now().Sub(start))
	s.recordCommand(ctx, cmd.Kind(), outbound.OutcomeCompleted, start)
	return nil
}

// IsReady reports whether the consume loop is running.
func (s *Service) IsReady() bool {
	return s.running.Load()
}

// IsHealthy reports whether the loop is running and not stuck on one command.
func (s *Service) IsHealthy() bool {
	if !s.running.Load() {
		return false
	}
	since := s.busySince.Load()
	if since == 0 {
		return true
	}
	return s.config.Now().Sub(time.Unix(0, since)) < s.config.StuckThreshold
}

// report delivers a lifecycle event. Failures are logged and recorded only;
// they never change the lease.
func (s *Service) report(ctx context.Context, logger *slog.Logger, event entity.LifecycleEvent, stage, key string) {
	stageKey := entity.StageKey(key, stage)
	err := s.reporter.Report(ctx, event, stageKey)
	if s.metrics != nil {
		s.metrics.RecordLifecycleReport(ctx, stage, err == nil)
	}
	if err != nil {
		logger.Error("failed to report lifecycle event", "stage", stage, "error", err)
		return
	}
	logger.Debug("reported lifecycle event", "stage", stage)
}

func (s *Service) recordCommand(ctx context.Context, kind entity.CommandKind, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCommand(ctx, kind, outcome, s.config.Now().Sub(start))
}

func (s *Service) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Service) pause(ctx context.Context) {
	timer := time.NewTimer(s.config.ErrorBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
