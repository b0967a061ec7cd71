package outbound

import (
	"context"

	"github.com/luminamt5/executor/internal/domain/entity"
)

// ExecutionGateway places orders against a trading backend. Backend failures
// come back as a failed ExecutionResult rather than an error.
type ExecutionGateway interface {
	// Name identifies the gateway in logs and metrics ("dry-run", "live").
	Name() string

	OpenOrder(ctx context.Context, cmd *entity.OpenOrderCommand) entity.ExecutionResult
	CloseOrder(ctx context.Context, cmd *entity.CloseOrderCommand) entity.ExecutionResult

	// Close tears down any backend session.
	Close(ctx context.Context) error
}

// Terminal is the surface of the MT5 terminal the live gateway drives.
// Failures are reported as *entity.TerminalError.
type Terminal interface {
	Initialize(ctx context.Context, path string) error
	Login(ctx context.Context, login int64, password, server string) error

	// AccountInfo returns nil with a nil error when the terminal has no
	// account information.
	AccountInfo(ctx context.Context) (*entity.AccountInfo, error)

	// SymbolInfo returns nil with a nil error for an unknown symbol.
	SymbolInfo(ctx context.Context, symbol string) (*entity.SymbolInfo, error)
	SymbolSelect(ctx context.Context, symbol string, enable bool) error

	// SymbolTick returns nil with a nil error when no quote is available.
	SymbolTick(ctx context.Context, symbol string) (*entity.Tick, error)

	Shutdown(ctx context.Context) error
}
