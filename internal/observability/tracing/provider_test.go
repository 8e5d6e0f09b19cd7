package tracing

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitDisabledInstallsPropagator(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	header := http.Header{}
	header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(header))

	out := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out))
	if out.Get("traceparent") == "" {
		t.Fatalf("expected traceparent to round-trip through the propagator")
	}
}

func TestInitEnabledReturnsShutdown(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "grounded-rag-test",
		OTLPEndpoint: "http://127.0.0.1:4318",
		SampleRatio:  0,
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
}
