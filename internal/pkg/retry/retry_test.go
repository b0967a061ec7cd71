package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient error")
var errPermanent = errors.New("permanent error")

func isTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(3), isTransient, nil, func() (int, error) {
		calls++
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected result 42, got %d", result)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesOnTransientError(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(3), isTransient, nil, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected result 42, got %d", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_FailsImmediatelyOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(3), isTransient, nil, func() (int, error) {
		calls++
		return 0, errPermanent
	})

	if !errors.Is(err, errPermanent) {
		t.Errorf("expected permanent error, got: %v", err)
	}
	if IsExhausted(err) {
		t.Error("permanent error must not be reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustsAttemptsAndKeepsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(3), isTransient, nil, func() (int, error) {
		calls++
		return 0, errTransient
	})

	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !IsExhausted(err) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("expected last error to be wrapped, got %v", err)
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) && ex.Attempts != 3 {
		t.Errorf("expected Attempts=3, got %d", ex.Attempts)
	}
}

func TestDo_BackoffDoublesWithoutJitter(t *testing.T) {
	var backoffs []time.Duration
	cfg := Config{MaxAttempts: 4, InitialBackoff: time.Millisecond, BackoffFactor: 2.0}

	_ = DoVoid(context.Background(), cfg, isTransient, func(_ int, _ error, b time.Duration) {
		backoffs = append(backoffs, b)
	}, func() error {
		return errTransient
	})

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	if len(backoffs) != len(want) {
		t.Fatalf("expected %d backoffs, got %v", len(want), backoffs)
	}
	for i := range want {
		if backoffs[i] != want[i] {
			t.Errorf("backoff[%d] = %v, want %v", i, backoffs[i], want[i])
		}
	}
}

func TestDo_MaxBackoffCapsGrowth(t *testing.T) {
	var backoffs []time.Duration
	cfg := Config{MaxAttempts: 4, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 3.0}

	_ = DoVoid(context.Background(), cfg, isTransient, func(_ int, _ error, b time.Duration) {
		backoffs = append(backoffs, b)
	}, func() error {
		return errTransient
	})

	for i, b := range backoffs {
		if b != time.Millisecond {
			t.Errorf("backoff[%d] = %v, want capped 1ms", i, b)
		}
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialBackoff: time.Hour}

	calls := 0
	_, err := Do(ctx, cfg, isTransient, func(int, error, time.Duration) { cancel() }, func() (int, error) {
		calls++
		return 0, errTransient
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDo_ZeroAttemptsStillCallsOnce(t *testing.T) {
	calls := 0
	_ = DoVoid(context.Background(), Config{}, nil, nil, func() error {
		calls++
		return errTransient
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
