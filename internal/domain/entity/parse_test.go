package entity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseCommand_OpenOrder(t *testing.T) {
	raw := []byte(`{"type":"open","symbol":"XAUUSD","side":"buy","volume":0.1,"commandId":"c-1"}`)

	cmd, err := ParseCommand(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	open, ok := cmd.(*OpenOrderCommand)
	if !ok {
		t.Fatalf("expected *OpenOrderCommand, got %T", cmd)
	}
	if open.Symbol != "XAUUSD" || open.Side != SideBuy {
		t.Errorf("unexpected symbol/side: %s/%s", open.Symbol, open.Side)
	}
	if !open.Volume.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("expected volume 0.1, got %s", open.Volume)
	}
	if open.StopLoss.Valid || open.TakeProfit.Valid {
		t.Error("expected no stop loss / take profit")
	}
	if got := ResolveIdempotencyKey(cmd, raw); got != "c-1" {
		t.Errorf("expected key c-1, got %q", got)
	}
}

func TestParseCommand_OpenOrderAliases(t *testing.T) {
	raw := []byte(`{"type":"open","symbol":"EURUSD","side":"sell","size":"0.25","stopLoss":1.2,"tp":1.05,"comment":"hedge"}`)

	cmd, err := ParseCommand(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	open := cmd.(*OpenOrderCommand)
	if open.Side != SideSell {
		t.Errorf("expected sell, got %s", open.Side)
	}
	if !open.Volume.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("expected size alias to set volume, got %s", open.Volume)
	}
	if !open.StopLoss.Valid || !open.StopLoss.Decimal.Equal(decimal.RequireFromString("1.2")) {
		t.Errorf("expected stop loss 1.2, got %+v", open.StopLoss)
	}
	if !open.TakeProfit.Valid || !open.TakeProfit.Decimal.Equal(decimal.RequireFromString("1.05")) {
		t.Errorf("expected take profit 1.05, got %+v", open.TakeProfit)
	}
	if open.Comment != "hedge" {
		t.Errorf("expected comment, got %q", open.Comment)
	}
}

func TestParseCommand_ControlPlane(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"status","actor":"ops","idempotencyKey":"k-9","commandId":"c-9"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Kind() != CommandKindStatus {
		t.Errorf("expected status, got %s", cmd.Kind())
	}
	if cmd.Header().Actor != "ops" {
		t.Errorf("expected actor ops, got %q", cmd.Header().Actor)
	}
	if got := ResolveIdempotencyKey(cmd, nil); got != "k-9" {
		t.Errorf("explicit idempotencyKey must win, got %q", got)
	}

	cmd, err = ParseCommand([]byte(`{"type":"panic"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cmd.(*PanicCommand); !ok {
		t.Errorf("expected *PanicCommand, got %T", cmd)
	}
}

func TestParseCommand_CloseOrder(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"close","symbol":"XAUUSD","positionId":123456,"side":"buy","volume":0.05}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closeCmd, ok := cmd.(*CloseOrderCommand)
	if !ok {
		t.Fatalf("expected *CloseOrderCommand, got %T", cmd)
	}
	if closeCmd.PositionID != "123456" {
		t.Errorf("expected numeric ticket to be kept as string, got %q", closeCmd.PositionID)
	}
	if closeCmd.Side != SideBuy {
		t.Errorf("expected buy, got %q", closeCmd.Side)
	}

	cmd, err = ParseCommand([]byte(`{"type":"close","symbol":"XAUUSD","positionId":"pos-1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cmd.(*CloseOrderCommand).Volume.IsZero() {
		t.Error("expected zero volume for a full close")
	}
}

func TestParseCommand_UnknownTypeNeverFails(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		original string
	}{
		{"unrecognised", `{"type":"bogus","actor":"x"}`, "bogus"},
		{"missing type", `{"actor":"x"}`, ""},
		{"non-string type", `{"type":42,"actor":"x"}`, ""},
		{"literal unknown", `{"type":"unknown","actor":"x"}`, "unknown"},
		{"pause is not handled", `{"type":"pause","actor":"x"}`, "pause"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			unknown, ok := cmd.(*UnknownCommand)
			if !ok {
				t.Fatalf("expected *UnknownCommand, got %T", cmd)
			}
			if unknown.OriginalType != tt.original {
				t.Errorf("expected original type %q, got %q", tt.original, unknown.OriginalType)
			}
			if unknown.Actor != "x" {
				t.Errorf("expected actor to be preserved, got %q", unknown.Actor)
			}
		})
	}
}

func TestParseCommand_UnknownKeepsIdentifiers(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"set-risk","commandId":"c-7","idempotencyKey":"k-7"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h := cmd.Header()
	if h.CommandID != "c-7" || h.IdempotencyKey != "k-7" {
		t.Errorf("expected identifiers to survive, got %+v", h)
	}
}

func TestParseCommand_MalformedEnvelope(t *testing.T) {
	tests := map[string][]byte{
		"not json":     []byte(`{"type":`),
		"array":        []byte(`[1,2,3]`),
		"null":         []byte(`null`),
		"string":       []byte(`"open"`),
		"invalid utf8": {'{', '"', 't', '"', ':', '"', 0xff, '"', '}'},
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCommand(raw)
			if !errors.Is(err, ErrMalformedEnvelope) {
				t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
			}
			if errors.Is(err, ErrSchemaViolation) {
				t.Error("malformed envelope must not be a schema violation")
			}
		})
	}
}

func TestParseCommand_SchemaViolations(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"missing symbol", `{"type":"open","side":"buy","volume":1}`, "symbol"},
		{"blank symbol", `{"type":"open","symbol":"  ","side":"buy","volume":1}`, "symbol"},
		{"missing side", `{"type":"open","symbol":"X","volume":1}`, "side"},
		{"bad side", `{"type":"open","symbol":"X","side":"long","volume":1}`, "side"},
		{"uppercase side", `{"type":"open","symbol":"X","side":"BUY","volume":1}`, "side"},
		{"mixed case side", `{"type":"open","symbol":"X","side":"Sell","volume":1}`, "side"},
		{"close uppercase side", `{"type":"close","symbol":"X","positionId":"p","side":"SELL"}`, "side"},
		{"missing volume", `{"type":"open","symbol":"X","side":"buy"}`, "volume"},
		{"zero volume", `{"type":"open","symbol":"X","side":"buy","volume":0}`, "volume"},
		{"negative volume", `{"type":"open","symbol":"X","side":"buy","volume":-1}`, "volume"},
		{"volume wrong type", `{"type":"open","symbol":"X","side":"buy","volume":true}`, "volume"},
		{"negative sl", `{"type":"open","symbol":"X","side":"buy","volume":1,"sl":-2}`, "sl"},
		{"symbol wrong type", `{"type":"open","symbol":7,"side":"buy","volume":1}`, "symbol"},
		{"actor wrong type", `{"type":"status","actor":{"id":1}}`, "actor"},
		{"close without position", `{"type":"close","symbol":"X"}`, "positionId"},
		{"close bad position", `{"type":"close","symbol":"X","positionId":-5}`, "positionId"},
		{"close zero volume", `{"type":"close","symbol":"X","positionId":"p","volume":0}`, "volume"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommand([]byte(tt.raw))
			if !errors.Is(err, ErrSchemaViolation) {
				t.Fatalf("expected ErrSchemaViolation, got %v", err)
			}
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("expected *SchemaError, got %T", err)
			}
			if schemaErr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, schemaErr.Field)
			}
			if !IsDiscardable(err) {
				t.Error("schema violations must be discardable")
			}
		})
	}
}

func TestResolveIdempotencyKey_RawHashIsDeterministic(t *testing.T) {
	raw := []byte(`{"type":"status","actor":"ops"}`)
	cmd, err := ParseCommand(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := ResolveIdempotencyKey(cmd, raw)
	second := ResolveIdempotencyKey(cmd, append([]byte(nil), raw...))
	if first != second {
		t.Errorf("expected identical keys, got %q and %q", first, second)
	}
	if !strings.HasPrefix(first, "raw:") || len(first) != len("raw:")+64 {
		t.Errorf("expected raw:<sha256 hex>, got %q", first)
	}

	other := ResolveIdempotencyKey(cmd, []byte(`{"type":"status","actor":"ops2"}`))
	if other == first {
		t.Error("different payloads must not share a raw key")
	}
}

type recordingHandler struct {
	called string
}

func (h *recordingHandler) HandleStatus(context.Context, *StatusCommand) (Meta, error) {
	h.called = "status"
	return nil, nil
}

func (h *recordingHandler) HandlePanic(context.Context, *PanicCommand) (Meta, error) {
	h.called = "panic"
	return nil, nil
}

func (h *recordingHandler) HandleOpenOrder(context.Context, *OpenOrderCommand) (Meta, error) {
	h.called = "open"
	return nil, nil
}

func (h *recordingHandler) HandleCloseOrder(context.Context, *CloseOrderCommand) (Meta, error) {
	h.called = "close"
	return nil, nil
}

func (h *recordingHandler) HandleUnknown(context.Context, *UnknownCommand) (Meta, error) {
	h.called = "unknown"
	return nil, nil
}

func TestDispatch_RoutesEachVariant(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"type":"status"}`, "status"},
		{`{"type":"panic"}`, "panic"},
		{`{"type":"open","symbol":"X","side":"buy","volume":1}`, "open"},
		{`{"type":"close","symbol":"X","positionId":"1"}`, "close"},
		{`{"type":"whatever"}`, "unknown"},
	}
	for _, tt := range tests {
		cmd, err := ParseCommand([]byte(tt.raw))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.raw, err)
		}
		h := &recordingHandler{}
		if _, err := cmd.Dispatch(context.Background(), h); err != nil {
			t.Fatalf("%s: dispatch error: %v", tt.raw, err)
		}
		if h.called != tt.want {
			t.Errorf("%s: expected %s handler, got %q", tt.raw, tt.want, h.called)
		}
	}
}
