package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/luminamt5/executor/internal/domain/entity"
)

var _ entity.CommandHandler = (*dispatch)(nil)

// pendingReport is a lifecycle event sent only after the lease is completed.
type pendingReport struct {
	stage string
	event entity.LifecycleEvent
}

// dispatch handles one command under an acquired lease.
type dispatch struct {
	svc    *Service
	key    string
	logger *slog.Logger

	report *pendingReport
}

// run dispatches cmd and converts a panic into an error so the lease is failed.
func (d *dispatch) run(ctx context.Context, cmd entity.Command) (meta entity.Meta, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling command", "panic", r)
			meta, err = nil, fmt.Errorf("panic while handling %s command: %v", cmd.Kind(), r)
		}
	}()
	return cmd.Dispatch(ctx, d)
}

func (d *dispatch) HandleStatus(_ context.Context, cmd *entity.StatusCommand) (entity.Meta, error) {
	d.logger.Info("status requested", "actor", cmd.Actor)
	d.controlPlaneReport(cmd.Envelope)
	return entity.Meta{"type": string(entity.CommandKindStatus)}, nil
}

func (d *dispatch) HandlePanic(_ context.Context, cmd *entity.PanicCommand) (entity.Meta, error) {
	d.logger.Warn("panic received: stop new executions", "actor", cmd.Actor)
	d.controlPlaneReport(cmd.Envelope)
	return entity.Meta{"type": string(entity.CommandKindPanic)}, nil
}

func (d *dispatch) HandleOpenOrder(ctx context.Context, cmd *entity.OpenOrderCommand) (entity.Meta, error) {
	result := d.svc.gateway.OpenOrder(ctx, cmd)
	if !result.OK {
		return nil, d.failed(ctx, cmd.Envelope, result)
	}

	d.logger.Info("order opened",
		"gateway", d.svc.gateway.Name(),
		"symbol", cmd.Symbol,
		"side", cmd.Side,
		"volume", cmd.Volume,
		"orderRef", result.OrderRef,
	)
	d.report = &pendingReport{
		stage: entity.StageExecuted,
		event: d.svc.openedEvent(cmd, result, d.key),
	}
	return executedMeta(cmd.Kind(), d.svc.gateway.Name(), result), nil
}

func (d *dispatch) HandleCloseOrder(ctx context.Context, cmd *entity.CloseOrderCommand) (entity.Meta, error) {
	result := d.svc.gateway.CloseOrder(ctx, cmd)
	if !result.OK {
		return nil, d.failed(ctx, cmd.Envelope, result)
	}

	d.logger.Info("order closed",
		"gateway", d.svc.gateway.Name(),
		"symbol", cmd.Symbol,
		"positionId", cmd.PositionID,
		"orderRef", result.OrderRef,
	)
	if event := d.svc.closedEvent(cmd, result, d.key); !event.Empty() {
		d.report = &pendingReport{stage: entity.StageExecuted, event: event}
	}
	return executedMeta(cmd.Kind(), d.svc.gateway.Name(), result), nil
}

func (d *dispatch) HandleUnknown(_ context.Context, cmd *entity.UnknownCommand) (entity.Meta, error) {
	d.logger.Warn("unhandled command type", "originalType", cmd.OriginalType, "actor", cmd.Actor)
	return entity.Meta{"type": string(entity.CommandKindUnknown), "original_type": cmd.OriginalType}, nil
}

// failed reports the failed decision, when the command can be identified,
// and returns the gateway error that fails the lease.
func (d *dispatch) failed(ctx context.Context, env entity.Envelope, result entity.ExecutionResult) error {
	d.logger.Warn("gateway rejected command",
		"gateway", d.svc.gateway.Name(),
		"errorCode", result.ErrorCode,
		"message", result.Message,
	)
	if env.CommandID != "" {
		d.svc.report(ctx, d.logger, d.svc.failedEvent(env, result), entity.StageFailed, d.key)
	}
	return result.Err()
}

func (d *dispatch) controlPlaneReport(env entity.Envelope) {
	if env.CommandID == "" {
		return
	}
	d.report = &pendingReport{
		stage: entity.StageCommand,
		event: entity.LifecycleEvent{Command: commandDecision(env, entity.DecisionExecuted, nil)},
	}
}

func executedMeta(kind entity.CommandKind, gateway string, result entity.ExecutionResult) entity.Meta {
	meta := entity.Meta{
		"type":     string(kind),
		"gateway":  gateway,
		"orderRef": result.OrderRef,
		"message":  result.Message,
	}
	if !result.Price.IsZero() {
		meta["price"] = result.Price.String()
	}
	return meta
}
