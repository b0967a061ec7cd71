package entity

import "time"

// Lifecycle stages; each is reported under "<commandKey>:<stage>".
const (
	StageCommand  = "command"
	StageExecuted = "executed"
	StageFailed   = "failed"
)

// Command decisions understood by the lifecycle API.
const (
	DecisionExecuted = "executed"
	DecisionFailed   = "failed"
)

// Order, position statuses used in lifecycle reports.
const (
	OrderStatusFilled = "filled"
	OrderStatusClosed = "closed"

	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// StageKey qualifies a command's idempotency key with a reporting stage so the
// same stage is never double-reported downstream.
func StageKey(commandKey, stage string) string {
	return commandKey + ":" + stage
}

// LifecycleEvent is the body of POST /v1/executor/lifecycle. At least one
// section is set.
type LifecycleEvent struct {
	Command  *CommandLifecycle  `json:"command,omitempty"`
	Order    *OrderLifecycle    `json:"order,omitempty"`
	Fill     *FillLifecycle     `json:"fill,omitempty"`
	Position *PositionLifecycle `json:"position,omitempty"`
}

// Empty reports whether no section is set.
func (e LifecycleEvent) Empty() bool {
	return e.Command == nil && e.Order == nil && e.Fill == nil && e.Position == nil
}

type CommandLifecycle struct {
	ID             string  `json:"id"`
	Decision       string  `json:"decision,omitempty"`
	DecisionReason *string `json:"decisionReason,omitempty"`
}

type OrderLifecycle struct {
	ID            string     `json:"id,omitempty"`
	AccountID     string     `json:"accountId"`
	CommandID     *string    `json:"commandId,omitempty"`
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	Size          float64    `json:"size"`
	SL            *float64   `json:"sl,omitempty"`
	TP            *float64   `json:"tp,omitempty"`
	Status        string     `json:"status"`
	ClientOrderID *string    `json:"clientOrderId,omitempty"`
	MT5OrderID    *string    `json:"mt5OrderId,omitempty"`
	MT5PositionID *string    `json:"mt5PositionId,omitempty"`
	OpenedAt      *time.Time `json:"openedAt,omitempty"`
	ClosedAt      *time.Time `json:"closedAt,omitempty"`
	CloseReason   *string    `json:"closeReason,omitempty"`
}

type FillLifecycle struct {
	ID        string    `json:"id,omitempty"`
	MT5DealID string    `json:"mt5DealId"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	FilledAt  time.Time `json:"filledAt"`
	Side      Side      `json:"side,omitempty"`
}

type PositionLifecycle struct {
	ID            string     `json:"id,omitempty"`
	AccountID     string     `json:"accountId"`
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	Status        string     `json:"status"`
	MT5PositionID *string    `json:"mt5PositionId,omitempty"`
	OpenedAt      time.Time  `json:"openedAt"`
	ClosedAt      *time.Time `json:"closedAt,omitempty"`
	AvgEntryPrice float64    `json:"avgEntryPrice"`
	SizeOpened    float64    `json:"sizeOpened"`
	SizeClosed    *float64   `json:"sizeClosed,omitempty"`
}
