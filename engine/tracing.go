package engine

import (
	"context"

	process "github.com/goliatone/go-process"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	attrInstanceID   = "process.instance_id"
	attrDefinitionID = "process.definition_id"
	attrBatchID      = "process.batch_id"
	attrJobID        = "process.job_id"
	attrErrorCode    = "process.error_code"
)

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on the span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, process.Message(err))
		if code := process.Code(err); code != "" {
			span.SetAttributes(attribute.String(attrErrorCode, code))
		}
	}
	span.End()
}
