package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/osvaldoandrade/fpilot/internal/ratelimit"
	"github.com/osvaldoandrade/fpilot/pkg/domain"
)

func newTestCallback(secret string, attempts int) *resultCallbackService {
	svc := NewResultCallbackService(slog.New(slog.NewTextHandler(io.Discard, nil)), secret, attempts, 1, 1, nil, ratelimit.Bucket{}).(*resultCallbackService)
	svc.baseDelay = time.Millisecond
	svc.maxDelay = 5 * time.Millisecond
	return svc
}

func TestNewResultCallbackServiceDefaults(t *testing.T) {
	svc := NewResultCallbackService(nil, "", 0, 0, 0, nil, ratelimit.Bucket{}).(*resultCallbackService)
	if svc.maxAttempts != 5 {
		t.Fatalf("maxAttempts = %d, want 5", svc.maxAttempts)
	}
	if svc.baseDelay != 2*time.Second || svc.maxDelay != 60*time.Second {
		t.Fatalf("delays = %v/%v", svc.baseDelay, svc.maxDelay)
	}
}

func TestResultCallbackServiceSkipsRunsWithoutWebhook(t *testing.T) {
	svc := newTestCallback("secret", 3)
	svc.Send(context.Background(), domain.RunRecord{ID: "run-1", Task: "summarizeMarketSentiment"})
	svc.Wait()
}

func TestResultCallbackServiceDeliversSignedPayload(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		body    []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		headers = r.Header.Clone()
		body = b
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	svc := newTestCallback("topsecret", 3)
	done := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.Send(context.Background(), domain.RunRecord{
		ID:          "run-1",
		Task:        "summarizeMarketSentiment",
		Status:      domain.RunSucceeded,
		Output:      map[string]any{"summary": "calm"},
		Webhook:     srv.URL,
		CompletedAt: &done,
	})
	svc.Wait()

	mu.Lock()
	defer mu.Unlock()
	if headers == nil {
		t.Fatal("webhook was not called")
	}
	if got := headers.Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
	ts, err := strconv.ParseInt(headers.Get(TimestampHeader), 10, 64)
	if err != nil {
		t.Fatalf("timestamp header: %v", err)
	}
	if got, want := headers.Get(SignatureHeader), Sign("topsecret", ts, body); got != want {
		t.Fatalf("signature = %q, want %q", got, want)
	}

	var payload CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.RunID != "run-1" || payload.Status != domain.RunSucceeded || payload.Output["summary"] != "calm" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestResultCallbackServiceUnsignedWithoutSecret(t *testing.T) {
	var sig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig.Store(r.Header.Get(SignatureHeader))
	}))
	defer srv.Close()

	svc := newTestCallback("", 1)
	svc.Send(context.Background(), domain.RunRecord{ID: "run-1", Status: domain.RunFailed, ErrorCode: "rate_limited", Webhook: srv.URL})
	svc.Wait()

	if got, _ := sig.Load().(string); got != "" {
		t.Fatalf("expected no signature, got %q", got)
	}
}

func TestResultCallbackServiceRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := newTestCallback("secret", 5)
	svc.Send(context.Background(), domain.RunRecord{ID: "run-1", Status: domain.RunSucceeded, Webhook: srv.URL})
	svc.Wait()

	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestResultCallbackServiceGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := newTestCallback("secret", 2)
	svc.Send(context.Background(), domain.RunRecord{ID: "run-1", Status: domain.RunSucceeded, Webhook: srv.URL})
	svc.Wait()

	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestResultCallbackServiceStopsWhenCancelled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc := newTestCallback("secret", 10)
	svc.baseDelay = time.Hour
	svc.maxDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	svc.Send(ctx, domain.RunRecord{ID: "run-1", Status: domain.RunSucceeded, Webhook: srv.URL})

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	svc.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestSignIsStable(t *testing.T) {
	a := Sign("k", 1700000000, []byte(`{"runId":"r"}`))
	b := Sign("k", 1700000000, []byte(`{"runId":"r"}`))
	if a != b || len(a) != 64 {
		t.Fatalf("unexpected signature %q / %q", a, b)
	}
	if Sign("other", 1700000000, []byte(`{"runId":"r"}`)) == a {
		t.Fatal("signature must depend on the secret")
	}
}
