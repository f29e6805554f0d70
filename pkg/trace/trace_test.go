package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/patchline/relay/internal/common/config"
)

func TestInitTracing_DisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), &config.TracingConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}

func TestBuilder_Start_WithAttrs_End_WithInMemoryProvider(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sr),
		sdktrace.WithResource(resource.Empty()),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	b := Tracer("trace-test")
	scope := b.Start(context.Background(), "op")
	require.NotNil(t, scope)
	scope = scope.WithAttrs(attribute.String("k", "v"))
	require.NotNil(t, scope)
	scope.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)

	found := false
	for _, a := range spans[0].Attributes() {
		if a.Key == "k" && a.Value.AsString() == "v" {
			found = true
			break
		}
	}
	require.True(t, found, "expected attribute k=v to be set on span")
}
