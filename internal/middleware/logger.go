package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware stores a request-scoped logger and writes one access line
// per request once the handler chain is done.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		reqLogger := logger.With("request_id", RequestIDFromContext(c.Request.Context()))
		c.Set("logger", reqLogger)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if owner := Owner(c); owner != "" {
			attrs = append(attrs, "owner", owner)
		}
		if code := c.GetString("error_code"); code != "" {
			attrs = append(attrs, "code", code)
		}
		switch {
		case status >= 500:
			reqLogger.ErrorContext(c.Request.Context(), "request failed", attrs...)
		case status >= 400:
			reqLogger.WarnContext(c.Request.Context(), "request rejected", attrs...)
		default:
			reqLogger.InfoContext(c.Request.Context(), "request served", attrs...)
		}
	}
}

// Logger returns the request-scoped logger.
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
