package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestWithFields(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithStore(ctx, "kb")
	assert.Equal(t, []interface{}{"request_id", "req-1", "store_id", "kb"}, Fields(ctx))

	// 空值不追加
	assert.Equal(t, Fields(ctx), Fields(WithRequestID(ctx, "")))
	assert.Equal(t, Fields(ctx), Fields(WithStore(ctx, "")))
}

func TestWithFieldsOddArgs(t *testing.T) {
	ctx := WithFields(context.Background(), "a", 1, "dangling")
	assert.Equal(t, []interface{}{"a", 1}, Fields(ctx))
	assert.Nil(t, Fields(WithFields(context.Background(), "only")))
}

func TestWithFieldsDoesNotShareBacking(t *testing.T) {
	parent := WithFields(context.Background(), "a", 1)
	left := WithFields(parent, "b", 2)
	right := WithFields(parent, "c", 3)

	assert.Equal(t, []interface{}{"a", 1, "b", 2}, Fields(left))
	assert.Equal(t, []interface{}{"a", 1, "c", 3}, Fields(right))
	assert.Equal(t, []interface{}{"a", 1}, Fields(parent))
}

func TestWithTrace(t *testing.T) {
	assert.Nil(t, Fields(WithTrace(context.Background())))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	f := Fields(WithTrace(ctx))
	require.Len(t, f, 4)
	assert.Equal(t, "trace_id", f[0])
	assert.Equal(t, span.SpanContext().TraceID().String(), f[1])
	assert.Equal(t, "span_id", f[2])
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
	assert.NotNil(t, FromContext(WithRequestID(context.Background(), "req-2")))
}
