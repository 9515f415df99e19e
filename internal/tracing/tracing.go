package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

const (
	serviceName     = "fpilot"
	defaultEndpoint = "localhost:4317"
)

type Config struct {
	Enabled     bool
	ServiceName string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

// exporterSettings is Config after environment fallbacks and defaults.
type exporterSettings struct {
	service  string
	endpoint string
	insecure bool
	ratio    float64
}

func noopShutdown(context.Context) error { return nil }

// Setup installs the W3C trace context propagator and, when enabled, an OTLP
// gRPC tracer provider. The returned function flushes pending spans.
// Exporter failures are logged and leave tracing off.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	s := resolve(cfg)
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.endpoint)}
	if s.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Warn("otlp exporter unavailable, tracing disabled", "endpoint", s.endpoint, "err", err)
		return noopShutdown, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(s.service),
	))
	if err != nil {
		logger.Warn("otel resource merge failed, using default resource", "err", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.ratio))),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "endpoint", s.endpoint, "service", s.service, "sample_ratio", s.ratio)
	return tp.Shutdown, nil
}

func resolve(cfg Config) exporterSettings {
	s := exporterSettings{
		service:  firstNonEmpty(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), serviceName),
		endpoint: endpointHost(firstNonEmpty(cfg.OTLPEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), defaultEndpoint)),
		insecure: cfg.OTLPInsecure,
		ratio:    cfg.SampleRatio,
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"))); err == nil {
		s.insecure = v
	}
	if s.ratio <= 0 || s.ratio > 1 {
		s.ratio = 1
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// endpointHost turns a URL-style OTLP endpoint into the host:port the gRPC
// exporter expects.
func endpointHost(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

// Tracer returns the tracer for one fpilot component, e.g. "http" or "runs".
func Tracer(component string) trace.Tracer {
	return otel.Tracer(serviceName + "/" + component)
}

// Parent returns the traceparent and tracestate of the span in ctx so that
// an asynchronous run can be resumed under the request that submitted it.
func Parent(ctx context.Context) (traceParent, traceState string) {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get("traceparent"), carrier.Get("tracestate")
}

// Resume attaches a remote parent recorded by Parent to ctx.
func Resume(ctx context.Context, traceParent, traceState string) context.Context {
	carrier := propagation.MapCarrier{}
	if v := strings.TrimSpace(traceParent); v != "" {
		carrier.Set("traceparent", v)
	}
	if v := strings.TrimSpace(traceState); v != "" {
		carrier.Set("tracestate", v)
	}
	if len(carrier) == 0 {
		return ctx
	}
	return propagation.TraceContext{}.Extract(ctx, carrier)
}

// InjectHeaders writes traceparent and tracestate into webhook request
// headers. Baggage is never forwarded to third-party endpoints.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(h))
}
