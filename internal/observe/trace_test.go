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

// useTestTracer installs an in-memory tracer provider for the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestCorrelationID_NoSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestStartSpan_CorrelationIDFollowsTrace(t *testing.T) {
	exp := useTestTracer(t)

	ctx, root := StartSpan(context.Background(), "session.finalize")
	childCtx, child := StartSpan(ctx, "batch.transcribe")
	child.End()
	root.End()

	id := CorrelationID(ctx)
	if len(id) != 32 {
		t.Fatalf("CorrelationID = %q, want 32 hex chars", id)
	}
	if CorrelationID(childCtx) != id {
		t.Error("child span reports a different trace ID")
	}

	otherCtx, other := StartSpan(context.Background(), "session.finalize")
	defer other.End()
	if CorrelationID(otherCtx) == id {
		t.Error("unrelated root span shares the trace ID")
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}
	if spans[0].Name != "batch.transcribe" || spans[0].Parent.SpanID() != root.SpanContext().SpanID() {
		t.Errorf("child span = %q parent %s", spans[0].Name, spans[0].Parent.SpanID())
	}
	if spans[1].InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", spans[1].InstrumentationScope.Name, tracerName)
	}
}

func TestWithTrace(t *testing.T) {
	useTestTracer(t)

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	WithTrace(context.Background(), base).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("untraced line has trace_id: %s", buf.String())
	}
	buf.Reset()

	ctx, span := StartSpan(context.Background(), "session.finalize")
	defer span.End()
	WithTrace(ctx, base).Info("traced")

	line := buf.String()
	if !strings.Contains(line, "trace_id="+CorrelationID(ctx)) {
		t.Errorf("line lacks trace_id: %s", line)
	}
	if !strings.Contains(line, "span_id="+span.SpanContext().SpanID().String()) {
		t.Errorf("line lacks span_id: %s", line)
	}
}

func TestWithTrace_NilLoggerUsesDefault(t *testing.T) {
	if WithTrace(context.Background(), nil) != slog.Default() {
		t.Error("nil logger did not fall back to slog.Default")
	}
}
