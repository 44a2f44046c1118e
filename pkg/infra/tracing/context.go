package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys recorded by the RAG pipeline.
const (
	StoreIDKey     = attribute.Key("rag.store_id")
	StoreIDsKey    = attribute.Key("rag.store_ids")
	DocumentIDKey  = attribute.Key("rag.document_id")
	HitsKey        = attribute.Key("rag.hits")
	ChunksKey      = attribute.Key("rag.chunks")
	BytesKey       = attribute.Key("rag.bytes")
	SourcesUsedKey = attribute.Key("rag.sources_used")
	ConfidenceKey  = attribute.Key("rag.confidence")
	GroundedKey    = attribute.Key("rag.grounded")
)

// StartSpan 以全局 TracerProvider 开启 span。未启用追踪时返回非记录 span。
func StartSpan(ctx context.Context, tracerName, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, opts...)
}

// WithStore tags a new span with the store it operates on.
func WithStore(storeID string) trace.SpanStartOption {
	return trace.WithAttributes(StoreIDKey.String(storeID))
}

// WithDocument tags a new span with a document id.
func WithDocument(documentID string) trace.SpanStartOption {
	return trace.WithAttributes(DocumentIDKey.String(documentID))
}

// WithStores tags a new span with the store filter of a search.
func WithStores(storeIDs []string) trace.SpanStartOption {
	return trace.WithAttributes(StoreIDsKey.StringSlice(storeIDs))
}

// AddSpanAttributes adds attributes to the span in the context.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// RecordError 记录错误并把 span 标记为失败，err 为 nil 时不做任何事。
func RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

// TraceIDFromContext 返回当前 trace id，无有效 span 时返回空串。
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
