package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// traceFixture returns a TracerProvider backed by an in-memory exporter.
func traceFixture(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs redirects the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_EmptyWithoutTrace(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestCorrelationID_IsTheTraceID(t *testing.T) {
	tp, _ := traceFixture(t)

	ctx, span := tp.Tracer("game").Start(context.Background(), "player turn")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want a 32-char trace ID", cid)
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID %q contains non-hex characters", cid)
	}
	if want := span.SpanContext().TraceID().String(); cid != want {
		t.Errorf("correlation ID = %q, want the span's trace ID %q", cid, want)
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := traceFixture(t)

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	ctx, span := StartSpan(context.Background(), "narrate turn")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not attach a trace ID to the context")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "narrate turn" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "narrate turn")
	}
}

func TestLogger_StitchesLogsToTrace(t *testing.T) {
	tp, _ := traceFixture(t)
	buf := captureLogs(t)

	ctx, span := tp.Tracer("game").Start(context.Background(), "player turn")
	defer span.End()

	Logger(ctx).Info("narration complete")

	logged := buf.String()
	wantTrace := "trace_id=" + span.SpanContext().TraceID().String()
	if !strings.Contains(logged, wantTrace) {
		t.Errorf("log output missing %q, got: %s", wantTrace, logged)
	}
	if !strings.Contains(logged, "span_id=") {
		t.Errorf("log output missing span_id, got: %s", logged)
	}
}

func TestLogger_PlainWithoutTrace(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("narration complete")

	if logged := buf.String(); strings.Contains(logged, "trace_id") {
		t.Errorf("log output should carry no trace_id outside a span, got: %s", logged)
	}
}
