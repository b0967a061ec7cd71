package entity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// rawKeyPrefix marks idempotency keys derived from the payload bytes.
const rawKeyPrefix = "raw:"

type fieldSet map[string]json.RawMessage

// ParseCommand decodes a raw queue payload into a Command.
//
// It fails with ErrMalformedEnvelope when raw is not a UTF-8 JSON object and
// with a *SchemaError (ErrSchemaViolation) when a known command type carries
// invalid fields. An unrecognised or missing "type" never fails: it yields an
// *UnknownCommand.
func ParseCommand(raw []byte) (Command, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedEnvelope)
	}

	var fields fieldSet
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedEnvelope)
	}

	typ, _ := fields.looseString("type")
	kind := CommandKind(typ)

	switch kind {
	case CommandKindStatus, CommandKindPanic, CommandKindOpen, CommandKindClose:
	default:
		return &UnknownCommand{Envelope: fields.looseEnvelope(), OriginalType: typ}, nil
	}

	env, err := fields.envelope(kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case CommandKindStatus:
		return &StatusCommand{Envelope: env}, nil
	case CommandKindPanic:
		return &PanicCommand{Envelope: env}, nil
	case CommandKindOpen:
		return fields.openOrder(env)
	default:
		return fields.closeOrder(env)
	}
}

// ResolveIdempotencyKey returns the key a command is deduplicated under:
// the explicit idempotencyKey, else the commandId, else "raw:" followed by the
// hex SHA-256 of the payload bytes.
func ResolveIdempotencyKey(cmd Command, raw []byte) string {
	h := cmd.Header()
	if h.IdempotencyKey != "" {
		return h.IdempotencyKey
	}
	if h.CommandID != "" {
		return h.CommandID
	}
	sum := sha256.Sum256(raw)
	return rawKeyPrefix + hex.EncodeToString(sum[:])
}

func (f fieldSet) openOrder(env Envelope) (*OpenOrderCommand, error) {
	symbol, err := f.requiredString(CommandKindOpen, "symbol")
	if err != nil {
		return nil, err
	}

	side, err := f.side(CommandKindOpen, true)
	if err != nil {
		return nil, err
	}

	volume, present, err := f.decimal(CommandKindOpen, "volume", "size")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, &SchemaError{Type: CommandKindOpen, Field: "volume", Reason: "required"}
	}
	if !volume.IsPositive() {
		return nil, &SchemaError{Type: CommandKindOpen, Field: "volume", Reason: "must be greater than 0"}
	}

	sl, err := f.optionalPositive(CommandKindOpen, "sl", "stopLoss")
	if err != nil {
		return nil, err
	}
	tp, err := f.optionalPositive(CommandKindOpen, "tp", "takeProfit")
	if err != nil {
		return nil, err
	}

	comment, err := f.optionalString(CommandKindOpen, "comment")
	if err != nil {
		return nil, err
	}

	return &OpenOrderCommand{
		Envelope:   env,
		Symbol:     symbol,
		Side:       side,
		Volume:     volume,
		StopLoss:   sl,
		TakeProfit: tp,
		Comment:    comment,
	}, nil
}

func (f fieldSet) closeOrder(env Envelope) (*CloseOrderCommand, error) {
	symbol, err := f.requiredString(CommandKindClose, "symbol")
	if err != nil {
		return nil, err
	}

	positionID, err := f.identifier(CommandKindClose, "positionId")
	if err != nil {
		return nil, err
	}

	volume, present, err := f.decimal(CommandKindClose, "volume", "size")
	if err != nil {
		return nil, err
	}
	if present && !volume.IsPositive() {
		return nil, &SchemaError{Type: CommandKindClose, Field: "volume", Reason: "must be greater than 0"}
	}

	side, err := f.side(CommandKindClose, false)
	if err != nil {
		return nil, err
	}

	return &CloseOrderCommand{
		Envelope:   env,
		Symbol:     symbol,
		PositionID: positionID,
		Volume:     volume,
		Side:       side,
	}, nil
}

func (f fieldSet) envelope(kind CommandKind) (Envelope, error) {
	actor, err := f.optionalString(kind, "actor")
	if err != nil {
		return Envelope{}, err
	}
	commandID, err := f.optionalString(kind, "commandId")
	if err != nil {
		return Envelope{}, err
	}
	key, err := f.optionalString(kind, "idempotencyKey")
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Actor: actor, CommandID: commandID, IdempotencyKey: key}, nil
}

// looseEnvelope keeps whichever envelope fields are strings and ignores the rest.
func (f fieldSet) looseEnvelope() Envelope {
	actor, _ := f.looseString("actor")
	commandID, _ := f.looseString("commandId")
	key, _ := f.looseString("idempotencyKey")
	return Envelope{Actor: actor, CommandID: commandID, IdempotencyKey: key}
}

func (f fieldSet) looseString(name string) (string, bool) {
	raw, ok := f[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (f fieldSet) present(name string) (json.RawMessage, bool) {
	raw, ok := f[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

func (f fieldSet) optionalString(kind CommandKind, name string) (string, error) {
	raw, ok := f.present(name)
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &SchemaError{Type: kind, Field: name, Reason: "must be a string"}
	}
	return s, nil
}

func (f fieldSet) requiredString(kind CommandKind, name string) (string, error) {
	s, err := f.optionalString(kind, name)
	if err != nil {
		return "", err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &SchemaError{Type: kind, Field: name, Reason: "required"}
	}
	return s, nil
}

func (f fieldSet) side(kind CommandKind, required bool) (Side, error) {
	s, err := f.optionalString(kind, "side")
	if err != nil {
		return "", err
	}
	if s == "" {
		if required {
			return "", &SchemaError{Type: kind, Field: "side", Reason: "required"}
		}
		return "", nil
	}
	side := Side(s)
	if !side.Valid() {
		return "", &SchemaError{Type: kind, Field: "side", Reason: fmt.Sprintf("must be buy or sell, got %q", s)}
	}
	return side, nil
}

// decimal reads the first present of names as a JSON number (or numeric string).
func (f fieldSet) decimal(kind CommandKind, names ...string) (decimal.Decimal, bool, error) {
	for _, name := range names {
		raw, ok := f.present(name)
		if !ok {
			continue
		}
		var d decimal.Decimal
		if err := d.UnmarshalJSON(raw); err != nil {
			return decimal.Decimal{}, true, &SchemaError{Type: kind, Field: name, Reason: "must be a number"}
		}
		return d, true, nil
	}
	return decimal.Decimal{}, false, nil
}

func (f fieldSet) optionalPositive(kind CommandKind, names ...string) (decimal.NullDecimal, error) {
	d, present, err := f.decimal(kind, names...)
	if err != nil || !present {
		return decimal.NullDecimal{}, err
	}
	if !d.IsPositive() {
		return decimal.NullDecimal{}, &SchemaError{Type: kind, Field: names[0], Reason: "must be greater than 0"}
	}
	return decimal.NewNullDecimal(d), nil
}

// identifier accepts a non-empty string or a non-negative integer.
func (f fieldSet) identifier(kind CommandKind, name string) (string, error) {
	raw, ok := f.present(name)
	if !ok {
		return "", &SchemaError{Type: kind, Field: name, Reason: "required"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
		return "", &SchemaError{Type: kind, Field: name, Reason: "required"}
	}
	n, err := strconv.ParseUint(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil {
		return "", &SchemaError{Type: kind, Field: name, Reason: "must be a string or integer ticket"}
	}
	return strconv.FormatUint(n, 10), nil
}
