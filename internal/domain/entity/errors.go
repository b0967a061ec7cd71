package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEnvelope means the raw queue payload is not a UTF-8 JSON object.
	ErrMalformedEnvelope = errors.New("malformed command envelope")

	// ErrSchemaViolation means a recognised command type carried missing or invalid fields.
	ErrSchemaViolation = errors.New("command schema violation")

	// ErrLifecycleReportFailed means a lifecycle event could not be delivered.
	ErrLifecycleReportFailed = errors.New("lifecycle report failed")
)

// SchemaError describes which field of a known command type is invalid.
type SchemaError struct {
	Type   CommandKind
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s command: field %q: %s", e.Type, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	return ErrSchemaViolation
}

// IsDiscardable reports whether err describes a payload that can never be
// processed (malformed or schema-violating) and should be dropped.
func IsDiscardable(err error) bool {
	return errors.Is(err, ErrMalformedEnvelope) || errors.Is(err, ErrSchemaViolation)
}

// GatewayError is a failed ExecutionResult raised out of the dispatcher so the
// lease is released.
type GatewayError struct {
	Code    ErrorCode
	Message string
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway execution failed: %s", e.Message)
	}
	return fmt.Sprintf("gateway execution failed [%s]: %s", e.Code, e.Message)
}

// TerminalError is a (code, message) failure reported by the trading terminal.
type TerminalError struct {
	Code    int
	Message string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("(%d, %q)", e.Code, e.Message)
}

// LifecycleReportError carries the stage that failed and the last underlying
// error. It matches ErrLifecycleReportFailed with errors.Is.
type LifecycleReportError struct {
	IdempotencyKey string
	Err            error
}

func (e *LifecycleReportError) Error() string {
	return fmt.Sprintf("failed to report lifecycle %s after retries: %v", e.IdempotencyKey, e.Err)
}

func (e *LifecycleReportError) Unwrap() []error {
	return []error{ErrLifecycleReportFailed, e.Err}
}
