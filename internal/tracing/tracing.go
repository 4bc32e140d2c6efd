// Package tracing wraps every Edge<->Hub RPC method call in an OpenTelemetry
// span, grounded on the pack's otel wiring for exactly this kind of
// control-plane RPC (§3 DOMAIN STACK). When no exporter is configured, the
// SDK's default no-op tracer keeps the instrumentation free.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lotlab/grumble-cluster"

// NewProvider builds a TracerProvider. opts is left empty (no exporter)
// for deployments that haven't configured one; callers register the
// resulting provider with otel.SetTracerProvider.
func NewProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(opts...)
}

// StartRPCSpan starts a span for one Edge<->Hub method call, tagged with
// the method name and direction.
func StartRPCSpan(ctx context.Context, method, direction string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, method, trace.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("rpc.direction", direction),
	))
}

// EndWithError records err on span (if non-nil) and ends it. Handlers call
// this via defer so every RPC call path, success or failure, produces
// exactly one completed span.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
