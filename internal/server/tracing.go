package server

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/cyderes/message-search-service/internal/tracing"
)

// startRequestSpan continues any incoming W3C trace context and opens a server span
func startRequestSpan(r *http.Request, route string) (context.Context, oteltrace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return tracing.StartSpan(ctx, r.Method+" "+route,
		attribute.String("http.method", r.Method),
		attribute.String("http.route", route),
		attribute.String("http.target", r.URL.RequestURI()),
	)
}

func endRequestSpan(span oteltrace.Span, status int) {
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}
