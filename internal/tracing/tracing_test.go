package tracing

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	ctx, span := StartScanSpan(context.Background(), "p1", 3)
	defer span.End()
	assert.Empty(t, W3CTraceparent(ctx))
}

func TestSpansAndTraceparent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, scan := StartScanSpan(context.Background(), "sweetnight", 1)
	ctx, platform := StartPlatformSpan(ctx, "you")
	ctx, httpSpan := StartHTTPSpan(ctx, http.MethodPost, "https://api.firecrawl.dev/v0/scrape")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.firecrawl.dev/v0/scrape", nil)
	require.NoError(t, err)
	InjectTraceparent(ctx, req)

	header := req.Header.Get("traceparent")
	parts := strings.Split(header, "-")
	require.Len(t, parts, 4)
	assert.Equal(t, "00", parts[0])
	assert.Equal(t, httpSpan.SpanContext().TraceID().String(), parts[1])
	assert.Equal(t, httpSpan.SpanContext().SpanID().String(), parts[2])

	httpSpan.End()
	platform.End()
	scan.End()

	ended := recorder.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "HTTP POST", ended[0].Name())
	assert.Equal(t, "citation.scan_platform", ended[1].Name())
	assert.Equal(t, "citation.scan", ended[2].Name())
}
