package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultServiceName = "citetrack"

// Config holds tracing configuration
type Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

var serviceName = defaultServiceName

func tracer() oteltrace.Tracer {
	return otel.Tracer(serviceName)
}

// Initialize installs an OTLP tracer provider when enabled. With tracing
// disabled the global no-op provider stays in place and spans cost nothing.
func Initialize(cfg Config, logger *zap.Logger) (ShutdownFunc, error) {
	if cfg.ServiceName != "" {
		serviceName = cfg.ServiceName
	}
	noop := func(context.Context) error { return nil }

	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return noop, nil
	}
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("Tracing initialized", zap.String("endpoint", cfg.OTLPEndpoint))
	return tp.Shutdown, nil
}

// StartScanSpan opens the root span of one multi-platform scan
func StartScanSpan(ctx context.Context, projectID string, platforms int) (context.Context, oteltrace.Span) {
	return tracer().Start(ctx, "citation.scan",
		oteltrace.WithAttributes(
			attribute.String("citetrack.project_id", projectID),
			attribute.Int("citetrack.platforms", platforms),
		),
	)
}

// StartPlatformSpan opens a child span for a single platform scan
func StartPlatformSpan(ctx context.Context, platform string) (context.Context, oteltrace.Span) {
	return tracer().Start(ctx, "citation.scan_platform",
		oteltrace.WithAttributes(attribute.String("citetrack.platform", platform)),
	)
}

// StartHTTPSpan creates a client span for an outbound HTTP call
func StartHTTPSpan(ctx context.Context, method, url string) (context.Context, oteltrace.Span) {
	ctx, span := tracer().Start(ctx, "HTTP "+method, oteltrace.WithSpanKind(oteltrace.SpanKindClient))
	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(method),
		semconv.URLFull(url),
	)
	return ctx, span
}

// W3CTraceparent renders the span in ctx as a W3C traceparent value
func W3CTraceparent(ctx context.Context) string {
	sc := oteltrace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return fmt.Sprintf("00-%s-%s-%02x", sc.TraceID().String(), sc.SpanID().String(), byte(sc.TraceFlags()))
}

// InjectTraceparent adds the traceparent header to req
func InjectTraceparent(ctx context.Context, req *http.Request) {
	if tp := W3CTraceparent(ctx); tp != "" {
		req.Header.Set("traceparent", tp)
	}
}
