package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/ports/outbound"
)

var _ outbound.ExecutionGateway = (*Live)(nil)

// LiveStubRef is the order reference returned once the live path validates.
const LiveStubRef = "live-stub"

// Credentials identify the MT5 account the live gateway logs into.
type Credentials struct {
	Login        int64
	Password     string
	Server       string
	TerminalPath string
}

// Complete reports whether login, password and server are all present.
func (c Credentials) Complete() bool {
	return c.Login != 0 && c.Password != "" && c.Server != ""
}

// Live validates the full MT5 path (session, login, account, symbol, quote)
// before every order. It does not route real orders yet: a validated order
// returns a stub result carrying the quote price.
type Live struct {
	terminal outbound.Terminal
	creds    Credentials
	logger   *slog.Logger

	// mu serialises boot and order validation against the terminal session.
	mu        sync.Mutex
	connected atomic.Bool
}

// NewLive creates a live gateway. The terminal session is opened lazily on
// the first order.
func NewLive(terminal outbound.Terminal, creds Credentials, logger *slog.Logger) (*Live, error) {
	if terminal == nil {
		return nil, errors.New("terminal is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{
		terminal: terminal,
		creds:    creds,
		logger:   logger.With("component", "gateway", "mode", "live"),
	}, nil
}

func (g *Live) Name() string { return "live" }

// Connected reports whether the boot sequence has completed.
func (g *Live) Connected() bool {
	return g.connected.Load()
}

func (g *Live) OpenOrder(ctx context.Context, cmd *entity.OpenOrderCommand) entity.ExecutionResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.boot(ctx); !ok {
		return res
	}
	tick, res, ok := g.ensureSymbol(ctx, cmd.Symbol)
	if !ok {
		return res
	}

	price := tick.PriceFor(cmd.Side)
	g.logger.Info("live open order validated",
		"symbol", cmd.Symbol,
		"side", cmd.Side,
		"volume", cmd.Volume,
		"price", price,
		"commandId", cmd.CommandID,
	)
	return entity.ExecutionResult{OK: true, Message: "live stub validated", OrderRef: LiveStubRef, Price: price}
}

func (g *Live) CloseOrder(ctx context.Context, cmd *entity.CloseOrderCommand) entity.ExecutionResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.boot(ctx); !ok {
		return res
	}
	tick, res, ok := g.ensureSymbol(ctx, cmd.Symbol)
	if !ok {
		return res
	}

	// Closing a buy sells at the bid and vice versa. Without a side the exit
	// price is unknown and left zero.
	var price decimal.Decimal
	switch cmd.Side {
	case entity.SideBuy:
		price = tick.PriceFor(entity.SideSell)
	case entity.SideSell:
		price = tick.PriceFor(entity.SideBuy)
	}
	g.logger.Info("live close order validated",
		"symbol", cmd.Symbol,
		"positionId", cmd.PositionID,
		"price", price,
		"commandId", cmd.CommandID,
	)
	return entity.ExecutionResult{
		OK:          true,
		Message:     "live stub validated",
		OrderRef:    LiveStubRef,
		PositionRef: cmd.PositionID,
		Price:       price,
	}
}

// boot runs the connection sequence once; after success it is a no-op.
// Callers must hold mu.
func (g *Live) boot(ctx context.Context) (entity.ExecutionResult, bool) {
	if g.connected.Load() {
		return entity.ExecutionResult{}, true
	}

	if err := g.terminal.Initialize(ctx, g.creds.TerminalPath); err != nil {
		return g.fail(entity.ErrCodeInitializeFailed, "initialize failed", err, false), false
	}

	if !g.creds.Complete() {
		return g.fail(entity.ErrCodeLoginConfigMissing, "MT5 login, password and server must all be set", nil, true), false
	}

	if err := g.terminal.Login(ctx, g.creds.Login, g.creds.Password, g.creds.Server); err != nil {
		return g.fail(entity.ErrCodeLoginFailed, "login failed", err, true), false
	}

	info, err := g.terminal.AccountInfo(ctx)
	if err != nil || info == nil {
		return g.fail(entity.ErrCodeAccountInfoFailed, "account info unavailable", err, true), false
	}

	if info.Login != g.creds.Login {
		msg := fmt.Sprintf("terminal is logged into account %d, expected %d", info.Login, g.creds.Login)
		return g.fail(entity.ErrCodeAccountMismatch, msg, nil, true), false
	}

	g.connected.Store(true)
	g.logger.Info("MT5 session ready", "login", info.Login, "server", info.Server, "currency", info.Currency)
	return entity.ExecutionResult{}, true
}

// ensureSymbol checks the symbol exists, is selected and has a live quote.
func (g *Live) ensureSymbol(ctx context.Context, symbol string) (*entity.Tick, entity.ExecutionResult, bool) {
	info, err := g.terminal.SymbolInfo(ctx, symbol)
	if err != nil || info == nil {
		return nil, g.fail(entity.ErrCodeSymbolUnavailable, fmt.Sprintf("symbol %s unavailable", symbol), err, false), false
	}

	if !info.Visible {
		if err := g.terminal.SymbolSelect(ctx, symbol, true); err != nil {
			return nil, g.fail(entity.ErrCodeSymbolSelectFailed, fmt.Sprintf("symbol %s could not be selected", symbol), err, false), false
		}
	}

	tick, err := g.terminal.SymbolTick(ctx, symbol)
	if err != nil || tick == nil {
		return nil, g.fail(entity.ErrCodeSymbolNoTick, fmt.Sprintf("no quote for %s", symbol), err, false), false
	}
	return tick, entity.ExecutionResult{}, true
}

// fail builds a failed result, optionally tearing the session down first.
func (g *Live) fail(code entity.ErrorCode, msg string, cause error, teardown bool) entity.ExecutionResult {
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	if teardown {
		g.teardown()
	}
	g.logger.Warn("live gateway check failed", "errorCode", code, "message", msg)
	return entity.Failed(code, msg)
}

// teardown shuts the session down and clears the connected flag.
func (g *Live) teardown() {
	g.connected.Store(false)
	// A fresh context so that teardown still runs when the caller's is done.
	if err := g.terminal.Shutdown(context.Background()); err != nil {
		g.logger.Warn("terminal shutdown failed", "error", err)
	}
}

// Close shuts the terminal session down.
func (g *Live) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connected.Store(false)
	if err := g.terminal.Shutdown(ctx); err != nil {
		return fmt.Errorf("terminal shutdown: %w", err)
	}
	return nil
}
