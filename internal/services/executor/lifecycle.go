package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/luminamt5/executor/internal/domain/entity"
)

// idNamespace scopes the name-based UUIDs synthesized for lifecycle reports.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://luminamt5.dev/executor"))

// apiID returns s when it is already a UUID and a stable name-based UUID
// derived from kind and s otherwise.
func apiID(kind, s string) string {
	if id, err := uuid.Parse(s); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(idNamespace, []byte(kind+":"+s)).String()
}

// refSuffix is a short digest of the idempotency key used in synthesized
// references.
func refSuffix(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

// dealRef returns the backend's deal reference or one derived from orderRef.
func dealRef(result entity.ExecutionResult, key string) string {
	if result.DealRef != "" {
		return result.DealRef
	}
	return fmt.Sprintf("%s-%s-deal", result.OrderRef, refSuffix(key))
}

// positionRef returns the backend's position reference or one derived from orderRef.
func positionRef(result entity.ExecutionResult, key string) string {
	if result.PositionRef != "" {
		return result.PositionRef
	}
	return fmt.Sprintf("%s-%s-pos", result.OrderRef, refSuffix(key))
}

func commandDecision(env entity.Envelope, decision string, reason *string) *entity.CommandLifecycle {
	return &entity.CommandLifecycle{
		ID:             apiID("command", env.CommandID),
		Decision:       decision,
		DecisionReason: reason,
	}
}

func commandRef(env entity.Envelope) *string {
	if env.CommandID == "" {
		return nil
	}
	id := apiID("command", env.CommandID)
	return &id
}

func (s *Service) failedEvent(env entity.Envelope, result entity.ExecutionResult) entity.LifecycleEvent {
	reason := result.Message
	if result.ErrorCode != "" {
		reason = fmt.Sprintf("%s: %s", result.ErrorCode, result.Message)
	}
	return entity.LifecycleEvent{Command: commandDecision(env, entity.DecisionFailed, &reason)}
}

// openedEvent is the consolidated report for an executed open order: the
// command decision, the filled order, its fill and the resulting position.
func (s *Service) openedEvent(cmd *entity.OpenOrderCommand, result entity.ExecutionResult, key string) entity.LifecycleEvent {
	now := s.config.Now().UTC()
	accountID := apiID("account", s.config.AccountID)
	size := cmd.Volume.InexactFloat64()
	orderRef := result.OrderRef
	posRef := positionRef(result, key)
	clientOrderID := key

	event := entity.LifecycleEvent{
		Order: &entity.OrderLifecycle{
			ID:            apiID("order", key),
			AccountID:     accountID,
			CommandID:     commandRef(cmd.Envelope),
			Symbol:        cmd.Symbol,
			Side:          cmd.Side,
			Size:          size,
			SL:            optionalFloat(cmd.StopLoss.Valid, cmd.StopLoss.Decimal.InexactFloat64()),
			TP:            optionalFloat(cmd.TakeProfit.Valid, cmd.TakeProfit.Decimal.InexactFloat64()),
			Status:        entity.OrderStatusFilled,
			ClientOrderID: &clientOrderID,
			MT5OrderID:    &orderRef,
			MT5PositionID: &posRef,
			OpenedAt:      &now,
		},
	}
	if cmd.CommandID != "" {
		event.Command = commandDecision(cmd.Envelope, entity.DecisionExecuted, nil)
	}

	if result.Price.IsPositive() {
		price := result.Price.InexactFloat64()
		event.Fill = &entity.FillLifecycle{
			ID:        apiID("fill", key),
			MT5DealID: dealRef(result, key),
			Price:     price,
			Volume:    size,
			FilledAt:  now,
			Side:      cmd.Side,
		}
		event.Position = &entity.PositionLifecycle{
			ID:            apiID("position", key),
			AccountID:     accountID,
			Symbol:        cmd.Symbol,
			Side:          cmd.Side,
			Status:        entity.PositionStatusOpen,
			MT5PositionID: &posRef,
			OpenedAt:      now,
			AvgEntryPrice: price,
			SizeOpened:    size,
		}
	}
	return event
}

// closedEvent reports what is known about an executed close. The order and
// fill sections need a positive size, so a full close of unknown size only
// carries the command decision.
func (s *Service) closedEvent(cmd *entity.CloseOrderCommand, result entity.ExecutionResult, key string) entity.LifecycleEvent {
	now := s.config.Now().UTC()
	var event entity.LifecycleEvent
	if cmd.CommandID != "" {
		event.Command = commandDecision(cmd.Envelope, entity.DecisionExecuted, nil)
	}
	if !cmd.Volume.IsPositive() {
		return event
	}

	size := cmd.Volume.InexactFloat64()
	posRef := positionRef(result, key)
	if cmd.Side.Valid() {
		orderRef := result.OrderRef
		reason := "command"
		clientOrderID := key
		event.Order = &entity.OrderLifecycle{
			ID:            apiID("order", key),
			AccountID:     apiID("account", s.config.AccountID),
			CommandID:     commandRef(cmd.Envelope),
			Symbol:        cmd.Symbol,
			Side:          cmd.Side,
			Size:          size,
			Status:        entity.OrderStatusClosed,
			ClientOrderID: &clientOrderID,
			MT5OrderID:    &orderRef,
			MT5PositionID: &posRef,
			ClosedAt:      &now,
			CloseReason:   &reason,
		}
	}
	if result.Price.IsPositive() {
		event.Fill = &entity.FillLifecycle{
			ID:        apiID("fill", key),
			MT5DealID: dealRef(result, key),
			Price:     result.Price.InexactFloat64(),
			Volume:    size,
			FilledAt:  now,
			Side:      exitSide(cmd.Side),
		}
	}
	return event
}

// exitSide is the side of the deal that closes a position of side s.
func exitSide(s entity.Side) entity.Side {
	switch s {
	case entity.SideBuy:
		return entity.SideSell
	case entity.SideSell:
		return entity.SideBuy
	default:
		return ""
	}
}

func optionalFloat(valid bool, v float64) *float64 {
	if !valid {
		return nil
	}
	return &v
}
