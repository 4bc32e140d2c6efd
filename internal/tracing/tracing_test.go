package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestStartRPCSpanAndEndWithError(t *testing.T) {
	provider := NewProvider()
	defer provider.Shutdown(context.Background())
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(prev)

	ctx, span := StartRPCSpan(context.Background(), "hub.joinChannel", "edge_to_hub")
	if ctx == nil || span == nil {
		t.Fatal("expected non-nil context and span")
	}
	EndWithError(span, errors.New("boom"))
}

func TestStartRPCSpanNoError(t *testing.T) {
	provider := NewProvider()
	defer provider.Shutdown(context.Background())
	_, span := StartRPCSpan(context.Background(), "edge.getSessionStats", "hub_to_edge")
	EndWithError(span, nil)
}
