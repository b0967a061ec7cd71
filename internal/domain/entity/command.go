package entity

import (
	"context"

	"github.com/shopspring/decimal"
)

// CommandKind is the wire value of a command's "type" field.
type CommandKind string

const (
	CommandKindStatus  CommandKind = "status"
	CommandKindPanic   CommandKind = "panic"
	CommandKindOpen    CommandKind = "open"
	CommandKindClose   CommandKind = "close"
	CommandKindUnknown CommandKind = "unknown"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is buy or sell.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Envelope holds the fields every command carries. Empty strings mean the
// field was absent.
type Envelope struct {
	Actor          string
	CommandID      string
	IdempotencyKey string
}

// Command is the closed set of queue commands. Variants are dispatched through
// CommandHandler, which has one method per variant, so a new variant cannot be
// added without every handler being updated.
type Command interface {
	Kind() CommandKind
	Header() Envelope
	Dispatch(ctx context.Context, h CommandHandler) (Meta, error)

	sealed()
}

// CommandHandler processes each command variant.
type CommandHandler interface {
	HandleStatus(ctx context.Context, cmd *StatusCommand) (Meta, error)
	HandlePanic(ctx context.Context, cmd *PanicCommand) (Meta, error)
	HandleOpenOrder(ctx context.Context, cmd *OpenOrderCommand) (Meta, error)
	HandleCloseOrder(ctx context.Context, cmd *CloseOrderCommand) (Meta, error)
	HandleUnknown(ctx context.Context, cmd *UnknownCommand) (Meta, error)
}

// StatusCommand asks the executor to acknowledge that it is alive.
type StatusCommand struct {
	Envelope
}

func (*StatusCommand) Kind() CommandKind  { return CommandKindStatus }
func (c *StatusCommand) Header() Envelope { return c.Envelope }
func (*StatusCommand) sealed()            {}
func (c *StatusCommand) Dispatch(ctx context.Context, h CommandHandler) (Meta, error) {
	return h.HandleStatus(ctx, c)
}

// PanicCommand is the operator kill switch. It is control-plane only.
type PanicCommand struct {
	Envelope
}

func (*PanicCommand) Kind() CommandKind  { return CommandKindPanic }
func (c *PanicCommand) Header() Envelope { return c.Envelope }
func (*PanicCommand) sealed()            {}
func (c *PanicCommand) Dispatch(ctx context.Context, h CommandHandler) (Meta, error) {
	return h.HandlePanic(ctx, c)
}

// OpenOrderCommand requests a new market order.
type OpenOrderCommand struct {
	Envelope
	Symbol     string
	Side       Side
	Volume     decimal.Decimal
	StopLoss   decimal.NullDecimal
	TakeProfit decimal.NullDecimal
	Comment    string
}

func (*OpenOrderCommand) Kind() CommandKind  { return CommandKindOpen }
func (c *OpenOrderCommand) Header() Envelope { return c.Envelope }
func (*OpenOrderCommand) sealed()            {}
func (c *OpenOrderCommand) Dispatch(ctx context.Context, h CommandHandler) (Meta, error) {
	return h.HandleOpenOrder(ctx, c)
}

// CloseOrderCommand requests closing (all or part of) an existing position.
type CloseOrderCommand struct {
	Envelope
	Symbol     string
	PositionID string
	// Volume is zero when the whole position should be closed.
	Volume decimal.Decimal
	// Side is the side of the position being closed, when known.
	Side Side
}

func (*CloseOrderCommand) Kind() CommandKind  { return CommandKindClose }
func (c *CloseOrderCommand) Header() Envelope { return c.Envelope }
func (*CloseOrderCommand) sealed()            {}
func (c *CloseOrderCommand) Dispatch(ctx context.Context, h CommandHandler) (Meta, error) {
	return h.HandleCloseOrder(ctx, c)
}

// UnknownCommand is what any unrecognised or missing "type" degrades to.
type UnknownCommand struct {
	Envelope
	OriginalType string
}

func (*UnknownCommand) Kind() CommandKind  { return CommandKindUnknown }
func (c *UnknownCommand) Header() Envelope { return c.Envelope }
func (*UnknownCommand) sealed()            {}
func (c *UnknownCommand) Dispatch(ctx context.Context, h CommandHandler) (Meta, error) {
	return h.HandleUnknown(ctx, c)
}
