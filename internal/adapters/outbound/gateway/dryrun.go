// Package gateway provides the execution gateways: a dry-run gateway that
// never leaves the process and a live gateway that drives an MT5 terminal.
package gateway

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/ports/outbound"
)

var _ outbound.ExecutionGateway = (*DryRun)(nil)

// Placeholder references returned by the dry-run gateway.
const (
	DryRunOpenRef  = "dry-run-open"
	DryRunCloseRef = "dry-run-close"
)

// dryRunPrice is reported as the fill price; no quote source is consulted.
var dryRunPrice = decimal.NewFromInt(1)

// DryRun accepts every order without any external I/O.
type DryRun struct {
	logger *slog.Logger
}

// NewDryRun creates a dry-run gateway.
func NewDryRun(logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{logger: logger.With("component", "gateway", "mode", "dry-run")}
}

func (g *DryRun) Name() string { return "dry-run" }

func (g *DryRun) OpenOrder(_ context.Context, cmd *entity.OpenOrderCommand) entity.ExecutionResult {
	g.logger.Info("dry-run open order",
		"symbol", cmd.Symbol,
		"side", cmd.Side,
		"volume", cmd.Volume,
		"commandId", cmd.CommandID,
	)
	return entity.ExecutionResult{OK: true, Message: "dry_run", OrderRef: DryRunOpenRef, Price: dryRunPrice}
}

func (g *DryRun) CloseOrder(_ context.Context, cmd *entity.CloseOrderCommand) entity.ExecutionResult {
	g.logger.Info("dry-run close order",
		"symbol", cmd.Symbol,
		"positionId", cmd.PositionID,
		"volume", cmd.Volume,
		"commandId", cmd.CommandID,
	)
	return entity.ExecutionResult{
		OK:          true,
		Message:     "dry_run",
		OrderRef:    DryRunCloseRef,
		PositionRef: cmd.PositionID,
		Price:       dryRunPrice,
	}
}

func (g *DryRun) Close(context.Context) error { return nil }
