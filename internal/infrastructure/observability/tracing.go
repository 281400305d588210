package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "mcp-chat-server/orchestrator"

// GetTracer returns the tracer for the orchestration engine.
func GetTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartOrchestrationSpan starts a span covering one top-level orchestration
// invocation.
func StartOrchestrationSpan(ctx context.Context, assistantMessageID string, retryDepth, batchSize int) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "orchestration.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("orchestration.assistant_message_id", assistantMessageID),
			attribute.Int("orchestration.retry_depth", retryDepth),
			attribute.Int("orchestration.batch_size", batchSize),
		),
	)
}

// StartToolSpan starts a span for one tool invocation.
func StartToolSpan(ctx context.Context, toolName, serverID string, round int) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "tool.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mcp.tool.name", toolName),
			attribute.String("mcp.server.id", serverID),
			attribute.Int("orchestration.round", round),
		),
	)
}

// StartModelSpan starts a span for one model chat call.
func StartModelSpan(ctx context.Context, modelConfigID string, excludeTools bool) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "model.chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", modelConfigID),
			attribute.Bool("llm.exclude_tools", excludeTools),
		),
	)
}

// EndSpan records the error state (if any) and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
