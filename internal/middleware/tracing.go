package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/fpilot/internal/tracing"
)

// TracingMiddleware continues an incoming W3C trace and wraps the handler
// chain in a server span named after the matched route.
func TracingMiddleware() gin.HandlerFunc {
	tracer := tracing.Tracer("http")

	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+c.Request.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.target", c.Request.URL.Path),
			),
		)
		defer span.End()
		if id := c.GetString("request_id"); id != "" {
			span.SetAttributes(attribute.String("fpilot.request_id", id))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if route := c.FullPath(); route != "" {
			span.SetName(c.Request.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
		}
		if task := c.Param("task"); task != "" {
			span.SetAttributes(attribute.String("fpilot.task", task))
		}
		if code := c.GetString("error_code"); code != "" {
			span.SetAttributes(attribute.String("fpilot.error_code", code))
		}
		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
