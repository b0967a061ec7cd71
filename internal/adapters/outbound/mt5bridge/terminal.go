// Package mt5bridge implements the live gateway's terminal by talking to a
// bridge process that runs next to the MetaTrader 5 terminal.
//
// The wire format is one JSON object per line in each direction:
//
//	-> {"id":1,"method":"login","params":{"login":5001,"password":"...","server":"Broker-Demo"}}
//	<- {"id":1,"ok":true,"result":true}
//	<- {"id":1,"ok":false,"error":{"code":-6,"message":"Terminal: Authorization failed"}}
//
// Calls are strictly sequential; the connection is opened on first use and
// reopened after any transport error.
package mt5bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/ports/outbound"
)

var _ outbound.Terminal = (*Terminal)(nil)

// codeTransport is reported when the bridge itself cannot be reached.
// It mirrors MT5's RES_E_INTERNAL_FAIL.
const codeTransport = -10001

// Method names understood by the bridge.
const (
	MethodInitialize   = "initialize"
	MethodLogin        = "login"
	MethodAccountInfo  = "account_info"
	MethodSymbolInfo   = "symbol_info"
	MethodSymbolSelect = "symbol_select"
	MethodSymbolTick   = "symbol_info_tick"
	MethodShutdown     = "shutdown"
)

// Config holds configuration for the bridge terminal.
type Config struct {
	// Addr is tcp://host:port or pipe://name.
	Addr string

	// CallTimeout bounds one request/response round trip when ctx has no
	// earlier deadline.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		Addr:        "tcp://127.0.0.1:18812",
		CallTimeout: 10 * time.Second,
		Logger:      slog.Default(),
	}
}

type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Terminal is an outbound.Terminal backed by the bridge.
type Terminal struct {
	dial    Dialer
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID uint64
}

// New creates a bridge terminal for config.Addr.
func New(config Config) (*Terminal, error) {
	defaults := ConfigDefaults()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	dial, err := NewDialer(config.Addr)
	if err != nil {
		return nil, err
	}
	return NewWithDialer(dial, config), nil
}

// NewWithDialer creates a bridge terminal that connects through dial.
func NewWithDialer(dial Dialer, config Config) *Terminal {
	defaults := ConfigDefaults()
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	return &Terminal{
		dial:    dial,
		timeout: config.CallTimeout,
		logger:  config.Logger.With("component", "mt5-bridge"),
	}
}

func (t *Terminal) Initialize(ctx context.Context, path string) error {
	var params map[string]string
	if path != "" {
		params = map[string]string{"path": path}
	}
	return t.expectTrue(ctx, MethodInitialize, params)
}

func (t *Terminal) Login(ctx context.Context, login int64, password, server string) error {
	return t.expectTrue(ctx, MethodLogin, map[string]any{
		"login":    login,
		"password": password,
		"server":   server,
	})
}

func (t *Terminal) AccountInfo(ctx context.Context) (*entity.AccountInfo, error) {
	var out *struct {
		Login    int64           `json:"login"`
		Server   string          `json:"server"`
		Currency string          `json:"currency"`
		Balance  decimal.Decimal `json:"balance"`
		Equity   decimal.Decimal `json:"equity"`
	}
	if err := t.call(ctx, MethodAccountInfo, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return &entity.AccountInfo{
		Login:    out.Login,
		Server:   out.Server,
		Currency: out.Currency,
		Balance:  out.Balance,
		Equity:   out.Equity,
	}, nil
}

func (t *Terminal) SymbolInfo(ctx context.Context, symbol string) (*entity.SymbolInfo, error) {
	var out *struct {
		Name    string `json:"name"`
		Visible bool   `json:"visible"`
		Digits  int    `json:"digits"`
	}
	if err := t.call(ctx, MethodSymbolInfo, map[string]string{"symbol": symbol}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return &entity.SymbolInfo{Name: out.Name, Visible: out.Visible, Digits: out.Digits}, nil
}

func (t *Terminal) SymbolSelect(ctx context.Context, symbol string, enable bool) error {
	return t.expectTrue(ctx, MethodSymbolSelect, map[string]any{"symbol": symbol, "enable": enable})
}

func (t *Terminal) SymbolTick(ctx context.Context, symbol string) (*entity.Tick, error) {
	var out *struct {
		Bid  decimal.Decimal `json:"bid"`
		Ask  decimal.Decimal `json:"ask"`
		Time int64           `json:"time"`
	}
	if err := t.call(ctx, MethodSymbolTick, map[string]string{"symbol": symbol}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return &entity.Tick{Bid: out.Bid, Ask: out.Ask, Time: out.Time}, nil
}

// Shutdown asks the bridge to shut the terminal down and closes the
// connection. It is a no-op when no connection is open.
func (t *Terminal) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	connected := t.conn != nil
	t.mu.Unlock()
	if !connected {
		return nil
	}

	err := t.call(ctx, MethodShutdown, nil, nil)

	t.mu.Lock()
	t.closeLocked()
	t.mu.Unlock()
	return err
}

// expectTrue calls method and treats a false result as a failure.
func (t *Terminal) expectTrue(ctx context.Context, method string, params any) error {
	var ok *bool
	if err := t.call(ctx, method, params, &ok); err != nil {
		return err
	}
	if ok != nil && !*ok {
		return &entity.TerminalError{Code: -1, Message: method + " returned false"}
	}
	return nil
}

// call performs one round trip. Bridge-reported failures and transport
// failures are both returned as *entity.TerminalError.
func (t *Terminal) call(ctx context.Context, method string, params, result any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.connectLocked(ctx); err != nil {
		return &entity.TerminalError{Code: codeTransport, Message: fmt.Sprintf("connect to bridge: %v", err)}
	}

	t.nextID++
	id := t.nextID

	line, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}
	line = append(line, '\n')

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		t.closeLocked()
		return &entity.TerminalError{Code: codeTransport, Message: fmt.Sprintf("set deadline: %v", err)}
	}

	if _, err := t.conn.Write(line); err != nil {
		t.closeLocked()
		return &entity.TerminalError{Code: codeTransport, Message: fmt.Sprintf("%s: write: %v", method, err)}
	}

	raw, err := t.reader.ReadSlice('\n')
	if err != nil {
		t.closeLocked()
		return &entity.TerminalError{Code: codeTransport, Message: fmt.Sprintf("%s: read: %v", method, err)}
	}

	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(raw), &resp); err != nil {
		t.closeLocked()
		return &entity.TerminalError{Code: codeTransport, Message: fmt.Sprintf("%s: malformed response: %v", method, err)}
	}
	if resp.ID != id {
		t.closeLocked()
		return &entity.TerminalError{Code: codeTransport, Message: fmt.Sprintf("%s: response id %d, want %d", method, resp.ID, id)}
	}

	if !resp.OK {
		if resp.Error == nil {
			return &entity.TerminalError{Code: -1, Message: method + " failed"}
		}
		return &entity.TerminalError{Code: resp.Error.Code, Message: resp.Error.Message}
	}

	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return &entity.TerminalError{Code: codeTransport, Message: fmt.Sprintf("%s: decoding result: %v", method, err)}
	}
	return nil
}

func (t *Terminal) connectLocked(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	t.conn = conn
	t.reader = bufio.NewReaderSize(conn, 64<<10)
	t.logger.Debug("connected to bridge")
	return nil
}

func (t *Terminal) closeLocked() {
	if t.conn == nil {
		return
	}
	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.logger.Warn("closing bridge connection", "error", err)
	}
	t.conn = nil
	t.reader = nil
}
