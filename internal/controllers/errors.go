package controllers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/fpilot/internal/middleware"
	"github.com/osvaldoandrade/fpilot/internal/services"
	"github.com/osvaldoandrade/fpilot/pkg/flow"
	"github.com/osvaldoandrade/fpilot/pkg/gateway"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"
	"github.com/osvaldoandrade/fpilot/pkg/schema"
)

// statusByCode maps flow error codes to HTTP statuses. 499 follows the
// client-closed-request convention.
var statusByCode = map[string]int{
	"cancelled":           499,
	"unknown_task":        http.StatusNotFound,
	"duplicate_task":      http.StatusInternalServerError,
	"invalid_input":       http.StatusBadRequest,
	"invalid_output":      http.StatusBadGateway,
	"template_error":      http.StatusInternalServerError,
	"backend_auth":        http.StatusBadGateway,
	"rate_limited":        http.StatusTooManyRequests,
	"backend_timeout":     http.StatusGatewayTimeout,
	"backend_unavailable": http.StatusServiceUnavailable,
	"malformed_response":  http.StatusBadGateway,
	"internal":            http.StatusInternalServerError,
}

// StatusFor returns the HTTP status and error code for err.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, persistence.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, services.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down"
	}
	code := flow.Code(err)
	if status, ok := statusByCode[code]; ok {
		return status, code
	}
	return http.StatusInternalServerError, "internal"
}

// retryAfterSeconds rounds a positive hint up to whole seconds.
func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

func writeError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	body := gin.H{"error": err.Error(), "code": code}
	if stage := flow.StageOf(err); stage != "" {
		body["stage"] = stage
	}
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		body["violations"] = ve.Violations
	}
	var rl *gateway.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(rl.RetryAfter)))
	}
	if status >= http.StatusInternalServerError {
		// Internal details stay in the log.
		middleware.Logger(c).ErrorContext(c.Request.Context(), "request error", "code", code, "err", err)
		if code == "internal" || code == "template_error" || code == "duplicate_task" {
			body["error"] = http.StatusText(status)
		}
	}
	c.Set("error_code", code)
	c.AbortWithStatusJSON(status, body)
}
