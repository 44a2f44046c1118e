package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr int
	}{
		{"disabled is always valid", func(o *Options) { o.ExporterType = "bogus" }, 0},
		{"enabled defaults", func(o *Options) { o.Enabled = true }, 0},
		{"missing endpoint", func(o *Options) { o.Enabled = true; o.Endpoint = "" }, 1},
		{"stdout needs no endpoint", func(o *Options) {
			o.Enabled = true
			o.ExporterType = ExporterStdout
			o.Endpoint = ""
		}, 0},
		{"bad exporter and sampler", func(o *Options) {
			o.Enabled = true
			o.ExporterType = "zipkin"
			o.SamplerType = "sometimes"
		}, 2},
		{"ratio out of range", func(o *Options) { o.Enabled = true; o.SamplerRatio = 1.5 }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			tt.mutate(opts)
			assert.Len(t, opts.Validate(), tt.wantErr)
		})
	}
}

func TestNewProviderDisabled(t *testing.T) {
	before := otel.GetTracerProvider()

	p, err := NewProvider(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Equal(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderNoop(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	opts := NewOptions()
	opts.Enabled = true
	opts.ExporterType = ExporterNoop
	opts.SamplerType = SamplerAlwaysOn

	p, err := NewProvider(context.Background(), opts)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "test", "op", WithStore("kb"), WithDocument("doc"), WithStores([]string{"kb"}))
	assert.True(t, span.IsRecording())
	assert.NotEmpty(t, TraceIDFromContext(ctx))

	AddSpanAttributes(ctx, HitsKey.Int(1), ConfidenceKey.Float64(0.5), GroundedKey.Bool(true))
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	span.End()
}

func TestTraceIDWithoutSpan(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))
	assert.Equal(t, trace.SpanFromContext(context.Background()).IsRecording(), false)
}

func TestNewProviderInvalid(t *testing.T) {
	opts := NewOptions()
	opts.Enabled = true
	opts.ExporterType = "zipkin"
	_, err := NewProvider(context.Background(), opts)
	assert.Error(t, err)
}
