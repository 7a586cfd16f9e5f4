package observe

import (
	"context"
	"log/slog"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/audiobob"

// CommandSpanName is the span that covers one chat command from dispatch to
// reply.
const CommandSpanName = "bot.command"

// Tracer returns the tracer audiobob records command and HTTP spans on.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name on [Tracer]. End it when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartCommandSpan opens a [CommandSpanName] span for invocation id on
// connection handle. The command name and outcome stage are set later with
// [EndCommandSpan].
func StartCommandSpan(ctx context.Context, id string, handle uint64) (context.Context, trace.Span) {
	return StartSpan(ctx, CommandSpanName, trace.WithAttributes(
		attribute.String("invocation.id", id),
		attribute.String("handle", strconv.FormatUint(handle, 10)),
	))
}

// EndCommandSpan tags span with the matched command and its stage.
func EndCommandSpan(span trace.Span, command, stage string) {
	span.SetAttributes(
		attribute.String("command", command),
		attribute.String("stage", stage),
	)
}

// TraceID is the hex trace id carried by ctx. The HTTP API echoes it in the
// X-Trace-ID header. Empty without a span.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is slog.Default with trace_id and span_id added when ctx is inside a
// command or request span, so bot log lines can be joined with their trace.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
