package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/broker"
)

func TestInitTracerWiresAMQPPropagation(t *testing.T) {
	shutdown, err := InitTracer("tracing_test", zap.NewNop())
	require.NoError(t, err)
	defer shutdown()

	ctx, span := otel.Tracer("tracing_test").Start(context.Background(), "publish")
	defer span.End()

	headers := broker.InjectAMQPHeaders(ctx)
	require.Contains(t, headers, "traceparent")

	extracted := broker.ExtractAMQPHeaders(context.Background(), headers)
	assert.Equal(t, span.SpanContext().TraceID(),
		trace.SpanContextFromContext(extracted).TraceID())
}
