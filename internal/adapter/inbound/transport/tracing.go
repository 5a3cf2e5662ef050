package transport

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// NewTracerProvider builds the process-wide TracerProvider. Spans are
// written to a stdouttrace exporter: SPEC_FULL's DOMAIN STACK calls for
// tracing Store.Save, WS Authenticate (including the nested Twitch
// validation span), and HTTP /data requests, without requiring an
// external collector to observe them.
func NewTracerProvider() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceNameKey.String("alfred")),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer is the single tracer alfred's domain and adapter packages pull
// spans from.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/rhymu8354/alfred")
}

// StartSpan is a small convenience wrapper so call sites don't repeat
// Tracer().Start(ctx, name).
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name)
}
