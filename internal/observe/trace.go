package observe

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/zhouzirui/z-meet/backend"

// Tracer returns the gateway tracer from the global TracerProvider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span; the caller must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the global zerolog logger tagged with module and, when a
// span is active, its trace and span ids.
func Logger(ctx context.Context, module string) zerolog.Logger {
	l := log.With().Str("module", module)
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	return l.Logger()
}
