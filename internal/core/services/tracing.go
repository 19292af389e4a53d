package services

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"campuschat/internal/core/domain"
)

var tracer = otel.Tracer("chat-service")

// fail records err on span. Only internal errors mark the span as failed;
// validation and authorization outcomes are expected traffic.
func fail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	if domain.KindOf(err) == domain.KindInternal {
		span.SetStatus(codes.Error, msg)
	}
}
