// Package requestctx carries per-request values, the request-scoped
// logger and the Cloud Trace ids, through context so handlers and
// services never hold onto request state directly.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey contextKey = "github.com/sokomart/api/internal/platform/requestctx/logger"
	traceContextKey  contextKey = "github.com/sokomart/api/internal/platform/requestctx/trace"
)

var noopLogger = zap.NewNop()

// WithLogger stores the request logger. A nil logger is replaced with
// the shared no-op instance so lookups never return nil.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger returns the request logger, or a no-op logger when the
// request never passed through the logging middleware.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger returns the shared discard logger.
func NoopLogger() *zap.Logger { return noopLogger }

// TraceInfo is the Cloud Trace context extracted from the incoming
// request. ProjectID is kept alongside the ids because the Cloud
// Logging trace resource name needs it.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithTrace stores the trace metadata for the request.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace returns the trace metadata, reporting whether any was set.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	if !ok {
		return TraceInfo{}, false
	}
	return info, true
}

// TraceID returns the trace id alone, or "" when absent.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
