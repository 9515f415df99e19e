package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/osvaldoandrade/fpilot/internal/backoff"
	"github.com/osvaldoandrade/fpilot/internal/metrics"
	"github.com/osvaldoandrade/fpilot/internal/ratelimit"
	"github.com/osvaldoandrade/fpilot/internal/tracing"
	"github.com/osvaldoandrade/fpilot/pkg/domain"
)

const (
	SignatureHeader = "X-Fpilot-Signature"
	TimestampHeader = "X-Fpilot-Timestamp"
)

// ResultCallbackService delivers finished asynchronous runs to their webhook.
type ResultCallbackService interface {
	Send(ctx context.Context, rec domain.RunRecord)
	// Wait blocks until every delivery started so far has finished.
	Wait()
}

// CallbackPayload is the JSON body POSTed to a run's webhook.
type CallbackPayload struct {
	RunID       string           `json:"runId"`
	Task        string           `json:"task"`
	Status      domain.RunStatus `json:"status"`
	Output      map[string]any   `json:"output,omitempty"`
	FailedStage string           `json:"failedStage,omitempty"`
	ErrorCode   string           `json:"errorCode,omitempty"`
	Error       string           `json:"error,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

type resultCallbackService struct {
	logger      *slog.Logger
	secret      string
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	client      *http.Client

	limiter ratelimit.Limiter
	bucket  ratelimit.Bucket

	wg sync.WaitGroup
}

func NewResultCallbackService(logger *slog.Logger, secret string, maxAttempts int, baseDelaySeconds int, maxDelaySeconds int, limiter ratelimit.Limiter, bucket ratelimit.Bucket) ResultCallbackService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseDelaySeconds <= 0 {
		baseDelaySeconds = 2
	}
	if maxDelaySeconds <= 0 {
		maxDelaySeconds = 60
	}
	return &resultCallbackService{
		logger:      logger,
		secret:      secret,
		maxAttempts: maxAttempts,
		baseDelay:   time.Duration(baseDelaySeconds) * time.Second,
		maxDelay:    time.Duration(maxDelaySeconds) * time.Second,
		client:      &http.Client{Timeout: 10 * time.Second},
		limiter:     limiter,
		bucket:      bucket,
	}
}

func (s *resultCallbackService) Send(ctx context.Context, rec domain.RunRecord) {
	if strings.TrimSpace(rec.Webhook) == "" {
		return
	}
	payload := CallbackPayload{
		RunID:       rec.ID,
		Task:        rec.Task,
		Status:      rec.Status,
		Output:      rec.Output,
		FailedStage: rec.FailedStage,
		ErrorCode:   rec.ErrorCode,
		Error:       rec.Error,
		CompletedAt: rec.CompletedAt,
	}

	b, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("result callback encode failed", "run_id", rec.ID, "err", err)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sendWithRetry(ctx, rec.Task, rec.Webhook, b)
	}()
}

func (s *resultCallbackService) Wait() { s.wg.Wait() }

func (s *resultCallbackService) sendWithRetry(ctx context.Context, task string, url string, body []byte) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if s.limiter != nil && s.bucket.Enabled() {
			for {
				dec, err := s.limiter.Allow(ctx, "webhook", url, s.bucket)
				if err != nil {
					// Fail open.
					break
				}
				if dec.Allowed {
					break
				}
				metrics.RateLimitHitsTotal.WithLabelValues("webhook", "run_result").Inc()
				if sleepOrDone(ctx, dec.RetryAfter) != nil {
					return
				}
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			s.logger.Warn("result callback request invalid", "url", url, "err", err)
			metrics.WebhookDeliveriesTotal.WithLabelValues("run_result", task, "failure").Inc()
			return
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectHeaders(ctx, req.Header)
		s.addSignature(req, body)
		resp, err := s.client.Do(req)
		if err == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_ = resp.Body.Close()
			metrics.WebhookDeliveriesTotal.WithLabelValues("run_result", task, "success").Inc()
			return
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		if attempt == s.maxAttempts {
			break
		}
		if sleepOrDone(ctx, s.backoffDelay(attempt)) != nil {
			break
		}
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("run_result", task, "failure").Inc()
	s.logger.Warn("result callback failed", "url", url, "task", task)
}

func (s *resultCallbackService) backoffDelay(attempt int) time.Duration {
	return backoff.Delay(backoff.Exponential, s.baseDelay, s.maxDelay, attempt-1, nil)
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *resultCallbackService) addSignature(req *http.Request, body []byte) {
	if strings.TrimSpace(s.secret) == "" {
		return
	}
	ts := time.Now().UTC().Unix()
	req.Header.Set(TimestampHeader, fmt.Sprintf("%d", ts))
	req.Header.Set(SignatureHeader, Sign(s.secret, ts, body))
}

// Sign computes the webhook signature: hex HMAC-SHA256 over "<unix ts>.<body>".
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
