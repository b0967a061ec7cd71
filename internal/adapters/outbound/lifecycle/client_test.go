package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/luminamt5/executor/internal/adapters/outbound/memory"
	"github.com/luminamt5/executor/internal/domain/entity"
	"github.com/luminamt5/executor/internal/pkg/httpclient"
)

func commandEvent() entity.LifecycleEvent {
	return entity.LifecycleEvent{
		Command: &entity.CommandLifecycle{ID: "c-1", Decision: entity.DecisionExecuted},
	}
}

func newTestClient(t *testing.T, url string, initial time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIBase:        url,
		APIKey:         "key-123",
		BearerToken:    "tok-456",
		MaxAttempts:    3,
		InitialBackoff: initial,
		RateLimit:      rate.Inf,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Endpoint() != "http://localhost:3000/v1/executor/lifecycle" {
		t.Errorf("unexpected endpoint %s", c.Endpoint())
	}
	if c.config.MaxAttempts != 3 || c.config.InitialBackoff != 500*time.Millisecond {
		t.Errorf("unexpected retry defaults %+v", c.config)
	}
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c, err := NewClient(Config{APIBase: "https://api.example.com/"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Endpoint() != "https://api.example.com/v1/executor/lifecycle" {
		t.Errorf("unexpected endpoint %s", c.Endpoint())
	}
}

func TestNewClient_RejectsNonHTTPBase(t *testing.T) {
	if _, err := NewClient(Config{APIBase: "localhost:3000"}); err == nil {
		t.Fatal("expected error for base without scheme")
	}
}

func TestReport_SendsHeadersAndBody(t *testing.T) {
	var got struct {
		method, path, idemKey, apiKey, auth, contentType string
		body                                            entity.LifecycleEvent
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.idemKey = r.Header.Get("X-Idempotency-Key")
		got.apiKey = r.Header.Get("X-API-Key")
		got.auth = r.Header.Get("Authorization")
		got.contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got.body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, time.Millisecond)
	if err := c.Report(context.Background(), commandEvent(), "c-1:command"); err != nil {
		t.Fatalf("Report: %v", err)
	}

	if got.method != http.MethodPost || got.path != Path {
		t.Errorf("unexpected request %s %s", got.method, got.path)
	}
	if got.idemKey != "c-1:command" {
		t.Errorf("unexpected X-Idempotency-Key %q", got.idemKey)
	}
	if got.apiKey != "key-123" || got.auth != "Bearer tok-456" {
		t.Errorf("unexpected auth headers %q %q", got.apiKey, got.auth)
	}
	if got.contentType != "application/json" {
		t.Errorf("unexpected content type %q", got.contentType)
	}
	if got.body.Command == nil || got.body.Command.Decision != entity.DecisionExecuted {
		t.Errorf("unexpected body %+v", got.body)
	}
}

func TestReport_ServerErrorExhaustsWithBackoff(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	const initial = 20 * time.Millisecond
	c := newTestClient(t, server.URL, initial)

	var mu sync.Mutex
	var backoffs []time.Duration
	c.onRetry = func(_ int, _ error, backoff time.Duration) {
		mu.Lock()
		backoffs = append(backoffs, backoff)
		mu.Unlock()
	}

	start := time.Now()
	err := c.Report(context.Background(), commandEvent(), "c-1:executed")
	elapsed := time.Since(start)

	if !errors.Is(err, entity.ErrLifecycleReportFailed) {
		t.Fatalf("expected ErrLifecycleReportFailed, got %v", err)
	}
	var reportErr *entity.LifecycleReportError
	if !errors.As(err, &reportErr) || reportErr.IdempotencyKey != "c-1:executed" {
		t.Fatalf("expected *LifecycleReportError for c-1:executed, got %v", err)
	}
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected last underlying 502, got %v", err)
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if len(backoffs) != 2 || backoffs[0] != initial || backoffs[1] != 2*initial {
		t.Errorf("expected backoffs [%v %v], got %v", initial, 2*initial, backoffs)
	}
	if elapsed < 3*initial {
		t.Errorf("expected at least %v of backoff, got %v", 3*initial, elapsed)
	}
}

func TestReport_ClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid side"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, time.Millisecond)
	err := c.Report(context.Background(), commandEvent(), "c-1:command")

	if !errors.Is(err, entity.ErrLifecycleReportFailed) {
		t.Fatalf("expected ErrLifecycleReportFailed, got %v", err)
	}
	if !httpclient.IsNonRetryable(err) {
		t.Errorf("expected 4xx to be non-retryable, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestReport_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, time.Millisecond)
	if err := c.Report(context.Background(), commandEvent(), "c-1:command"); err != nil {
		t.Fatalf("expected success on retry, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestReport_TransportErrorIsRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url, time.Millisecond)
	err := c.Report(context.Background(), commandEvent(), "c-1:command")
	if !errors.Is(err, entity.ErrLifecycleReportFailed) {
		t.Fatalf("expected ErrLifecycleReportFailed, got %v", err)
	}
	if httpclient.IsNonRetryable(err) {
		t.Errorf("transport errors must be retryable, got %v", err)
	}
}

func TestReport_EmptyEventIsRejected(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", time.Millisecond)
	err := c.Report(context.Background(), entity.LifecycleEvent{}, "c-1:command")
	if !errors.Is(err, entity.ErrLifecycleReportFailed) {
		t.Errorf("expected ErrLifecycleReportFailed, got %v", err)
	}
}

func TestTee_PrimaryErrorWinsMirrorErrorIsSwallowed(t *testing.T) {
	primary := memory.NewReporter()
	mirror := memory.NewReporter()
	mirror.Err = errors.New("sns down")

	tee := NewTee(primary, nil, mirror)
	if err := tee.Report(context.Background(), commandEvent(), "c-1:command"); err != nil {
		t.Fatalf("mirror failure must not surface, got %v", err)
	}
	if len(primary.Reports()) != 1 || len(mirror.Reports()) != 1 {
		t.Fatalf("expected both reporters to receive the event")
	}

	primary.Err = &entity.LifecycleReportError{IdempotencyKey: "c-1:command", Err: errors.New("502")}
	if err := tee.Report(context.Background(), commandEvent(), "c-1:command"); !errors.Is(err, entity.ErrLifecycleReportFailed) {
		t.Errorf("expected primary error, got %v", err)
	}
	if len(mirror.Reports()) != 2 {
		t.Error("mirror should still be called when the primary fails")
	}
}
