package tracing

import (
	"context"
	"net/http"
)

// Propagation keys
const (
	Header      = "X-Correlation-ID"
	MetadataKey = "x-correlation-id"
)

type contextKey string

const correlationKey contextKey = "correlation_id"

// WithCorrelationID returns ctx carrying cid. An empty cid returns ctx.
func WithCorrelationID(ctx context.Context, cid string) context.Context {
	if cid == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, cid)
}

// CorrelationID retrieves the correlation id from context
func CorrelationID(ctx context.Context) string {
	if cid, ok := ctx.Value(correlationKey).(string); ok {
		return cid
	}
	return ""
}

// InjectHeader copies the context's correlation id into h.
func InjectHeader(ctx context.Context, h http.Header) {
	if cid := CorrelationID(ctx); cid != "" {
		h.Set(Header, cid)
	}
}

// ExtractHeader returns ctx carrying the id found in h, if any.
func ExtractHeader(ctx context.Context, h http.Header) context.Context {
	return WithCorrelationID(ctx, h.Get(Header))
}
