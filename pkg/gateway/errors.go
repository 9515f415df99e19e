package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrCancelled is returned when the caller's context ends before the backend
// answers. It is never produced by the gateway's own timeout.
var ErrCancelled = errors.New("invocation cancelled by caller")

// AuthenticationError means the backend refused the configured credentials.
type AuthenticationError struct {
	Provider string
	Message  string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Provider, e.Message)
}

// RateLimitError means the backend throttled the request. RetryAfter is zero
// when the backend gave no hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (retry after %s): %s", e.Provider, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("%s: rate limited: %s", e.Provider, e.Message)
}

// BackendUnavailableError covers transport failures, 5xx answers, requests
// the backend rejected and the gateway timeout (Timeout is true only for the
// latter). Status holds the HTTP status of a rejection such as 400 or 404.
type BackendUnavailableError struct {
	Provider string
	Timeout  bool
	Status   int
	Err      error
}

func (e *BackendUnavailableError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: backend timed out", e.Provider)
	case e.rejected():
		return fmt.Sprintf("%s: request rejected with status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: backend unavailable: %v", e.Provider, e.Err)
}

func (e *BackendUnavailableError) rejected() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusRequestTimeout
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// MalformedResponseError means the backend answered but no JSON object could
// be recovered from the answer.
type MalformedResponseError struct {
	Provider string
	Text     string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Provider, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Retryable reports whether a fresh attempt may succeed where err failed.
// A rejected request fails the same way every time.
func Retryable(err error) bool {
	var rl *RateLimitError
	var un *BackendUnavailableError
	if errors.As(err, &un) {
		return !un.rejected()
	}
	return errors.As(err, &rl)
}

// Outcome is the low-cardinality label used for metrics and logs.
func Outcome(err error) string {
	var (
		auth *AuthenticationError
		rl   *RateLimitError
		un   *BackendUnavailableError
		mal  *MalformedResponseError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.As(err, &auth):
		return "auth"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &un):
		if un.Timeout {
			return "timeout"
		}
		if un.rejected() {
			return "rejected"
		}
		return "unavailable"
	case errors.As(err, &mal):
		return "malformed"
	}
	return "error"
}
