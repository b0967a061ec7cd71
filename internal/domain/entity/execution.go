package entity

import "github.com/shopspring/decimal"

// ErrorCode is the stable tag attached to a failed ExecutionResult.
type ErrorCode string

const (
	ErrCodeInitializeFailed   ErrorCode = "INITIALIZE_FAILED"
	ErrCodeLoginConfigMissing ErrorCode = "LOGIN_CONFIG_MISSING"
	ErrCodeLoginFailed        ErrorCode = "LOGIN_FAILED"
	ErrCodeAccountInfoFailed  ErrorCode = "ACCOUNT_INFO_FAILED"
	ErrCodeAccountMismatch    ErrorCode = "ACCOUNT_MISMATCH"
	ErrCodeSymbolUnavailable  ErrorCode = "SYMBOL_UNAVAILABLE"
	ErrCodeSymbolSelectFailed ErrorCode = "SYMBOL_SELECT_FAILED"
	ErrCodeSymbolNoTick       ErrorCode = "SYMBOL_NO_TICK"
	ErrCodeBackendError       ErrorCode = "BACKEND_ERROR"
)

// ExecutionResult is what a gateway returns for every order operation.
// Backend failures never escape a gateway as errors; they arrive here with
// OK=false and an ErrorCode.
type ExecutionResult struct {
	OK        bool
	Message   string
	OrderRef  string
	ErrorCode ErrorCode

	// DealRef and PositionRef are set when the backend supplies its own
	// identifiers. When empty, callers synthesize them from OrderRef.
	DealRef     string
	PositionRef string

	// Price is the execution (or validated quote) price; zero when unknown.
	Price decimal.Decimal
}

// Failed builds a failed result.
func Failed(code ErrorCode, message string) ExecutionResult {
	return ExecutionResult{OK: false, ErrorCode: code, Message: message}
}

// Err converts a failed result into a *GatewayError; it returns nil for OK results.
func (r ExecutionResult) Err() error {
	if r.OK {
		return nil
	}
	return &GatewayError{Code: r.ErrorCode, Message: r.Message}
}

// AccountInfo is the identity of the account a terminal is logged into.
type AccountInfo struct {
	Login    int64
	Server   string
	Currency string
	Balance  decimal.Decimal
	Equity   decimal.Decimal
}

// SymbolInfo is the terminal's metadata for a tradable symbol.
type SymbolInfo struct {
	Name    string
	Visible bool
	Digits  int
}

// Tick is a live quote.
type Tick struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Time int64
}

// PriceFor returns the side of the quote an order of the given side fills at.
func (t Tick) PriceFor(side Side) decimal.Decimal {
	if side == SideSell {
		return t.Bid
	}
	return t.Ask
}
