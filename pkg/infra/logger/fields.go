// Package logger carries request-scoped logging fields through context.Context.
//
// HTTP middleware stores request_id (and the otel trace/span ids) in the
// request context; business code calls FromContext to log with them.
package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
)

type contextKey int

const (
	fieldsKey contextKey = iota
	loggerKey
)

// fields 不可变，每次追加都复制一份，避免并发请求互相污染。
type fields []interface{}

func fieldsFrom(ctx context.Context) fields {
	if f, ok := ctx.Value(fieldsKey).(fields); ok {
		return f
	}
	return nil
}

// WithFields 在上下文中追加键值对字段，奇数个参数时忽略最后一个。
func WithFields(ctx context.Context, keysAndValues ...interface{}) context.Context {
	if len(keysAndValues)%2 != 0 {
		keysAndValues = keysAndValues[:len(keysAndValues)-1]
	}
	if len(keysAndValues) == 0 {
		return ctx
	}

	old := fieldsFrom(ctx)
	merged := make(fields, 0, len(old)+len(keysAndValues))
	merged = append(merged, old...)
	merged = append(merged, keysAndValues...)
	return context.WithValue(ctx, fieldsKey, merged)
}

// WithRequestID adds request_id to the context logger fields.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return WithFields(ctx, "request_id", requestID)
}

// WithStore adds store_id to the context logger fields.
func WithStore(ctx context.Context, storeID string) context.Context {
	if storeID == "" {
		return ctx
	}
	return WithFields(ctx, "store_id", storeID)
}

// WithTrace 从 OpenTelemetry span 中提取 trace_id 与 span_id。
func WithTrace(ctx context.Context) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ctx
	}
	return WithFields(ctx, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}

// Fields returns the key/value pairs stored in ctx.
func Fields(ctx context.Context) []interface{} {
	return fieldsFrom(ctx)
}

// WithLogger stores a pre-configured logger in the context.
func WithLogger(ctx context.Context, l core.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext 返回携带上下文字段的日志器。
// 优先使用 WithLogger 存入的日志器，否则基于全局日志器派生。
func FromContext(ctx context.Context) core.Logger {
	base, ok := ctx.Value(loggerKey).(core.Logger)
	if !ok {
		base = logger.Global()
	}
	if f := fieldsFrom(ctx); len(f) > 0 {
		return base.With(f...)
	}
	return base
}
