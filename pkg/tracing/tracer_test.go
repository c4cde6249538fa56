package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestConfig_UseTLS(t *testing.T) {
	assert.True(t, Config{Environment: "production", Insecure: true}.useTLS())
	assert.True(t, Config{Environment: "development"}.useTLS())
	assert.False(t, Config{Environment: "development", Insecure: true}.useTLS())
}

func TestConfig_Sampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), Config{SampleRate: 1}.sampler().Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), Config{SampleRate: 0}.sampler().Description())
	assert.Contains(t, Config{SampleRate: 0.25}.sampler().Description(), "TraceIDRatioBased{0.25}")
}

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSettlementSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	_, span := StartSettlementSpan(context.Background(), "test", "pipeline.outbound", "tron", "pool")
	RecordError(span, errors.New("broadcast failed"))
	RecordError(span, nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "pipeline.outbound", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Events(), 1)

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "tron", attrs["settlement.network"])
	assert.Equal(t, "pool", attrs["settlement.process"])
}
