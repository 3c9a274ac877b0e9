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

// useTestTracer installs a synchronous in-memory tracer provider as the
// global provider for the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog redirects slog.Default into a buffer for the duration of the
// test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestWithSession(t *testing.T) {
	ctx := context.Background()
	if got := SessionID(ctx); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	if got := WithSession(ctx, ""); got != ctx {
		t.Error("an empty ID must return ctx unchanged")
	}
	if got := SessionID(WithSession(ctx, "s-42")); got != "s-42" {
		t.Errorf("SessionID = %q, want s-42", got)
	}
}

func TestStartSpan_SessionAttribute(t *testing.T) {
	exp := useTestTracer(t)

	tests := []struct {
		name    string
		ctx     context.Context
		wantID  string
		wantSet bool
	}{
		{name: "without session", ctx: context.Background()},
		{name: "with session", ctx: WithSession(context.Background(), "s-7"), wantID: "s-7", wantSet: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp.Reset()
			ctx, span := StartSpan(tt.ctx, "orchestrator.turn")
			if CorrelationID(ctx) == "" {
				t.Error("span has no trace ID")
			}
			span.End()

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			var got string
			var set bool
			for _, kv := range spans[0].Attributes {
				if kv.Key == SessionIDKey {
					got, set = kv.Value.AsString(), true
				}
			}
			if set != tt.wantSet || got != tt.wantID {
				t.Errorf("session attribute = %q (set=%v), want %q (set=%v)", got, set, tt.wantID, tt.wantSet)
			}
		})
	}
}

func TestCorrelationID(t *testing.T) {
	useTestTracer(t)
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "unique")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 {
			t.Fatalf("correlation ID %q is not a 32-char trace ID", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	tests := []struct {
		name    string
		ctx     func() (context.Context, func())
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     func() (context.Context, func()) { return context.Background(), func() {} },
			notWant: []string{"trace_id", "session_id"},
		},
		{
			name: "session only",
			ctx: func() (context.Context, func()) {
				return WithSession(context.Background(), "s-1"), func() {}
			},
			want:    []string{"session_id=s-1"},
			notWant: []string{"trace_id"},
		},
		{
			name: "session and span",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(WithSession(context.Background(), "s-2"), "turn")
				return ctx, func() { span.End() }
			},
			want: []string{"session_id=s-2", "trace_id=", "span_id="},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			ctx, end := tt.ctx()
			defer end()

			Logger(ctx).Info("turn complete")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q must not contain %q", out, w)
				}
			}
		})
	}
}
