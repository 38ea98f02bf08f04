package httpclient

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	nethttp "net/http"

	"github.com/google/uuid"
)

const (
	// HeaderXRequestID is the standard header name for request tracing
	HeaderXRequestID = "X-Request-ID"
	// HeaderTraceParent is the W3C trace context header name
	HeaderTraceParent = "traceparent"
	// HeaderTraceState is the W3C trace context "tracestate" header name
	HeaderTraceState = "tracestate"
)

type contextKey string

const (
	traceIDKey     contextKey = "trace_id"
	traceParentKey contextKey = "traceparent"
	traceStateKey  contextKey = "tracestate"
)

// WithTraceID adds a trace ID to the context for outbound propagation
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns a non-empty trace ID from context if present
func TraceIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, traceIDKey)
}

// GetTraceIDFromContext returns the context trace ID or a freshly generated UUID
func GetTraceIDFromContext(ctx context.Context) string {
	if traceID, ok := TraceIDFromContext(ctx); ok {
		return traceID
	}
	return uuid.New().String()
}

// WithTraceParent adds a W3C traceparent value to the context
func WithTraceParent(ctx context.Context, traceParent string) context.Context {
	return context.WithValue(ctx, traceParentKey, traceParent)
}

// TraceParentFromContext returns a traceparent from context if present
func TraceParentFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, traceParentKey)
}

// WithTraceState adds a W3C tracestate value to the context
func WithTraceState(ctx context.Context, traceState string) context.Context {
	return context.WithValue(ctx, traceStateKey, traceState)
}

// TraceStateFromContext returns a tracestate from context if present
func TraceStateFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, traceStateKey)
}

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// GenerateTraceParent creates a sampled W3C traceparent value:
// version(2)-trace-id(32)-span-id(16)-flags(2).
func GenerateTraceParent() string {
	traceID := randomID(16)
	spanID := randomID(8)
	return "00-" + hex.EncodeToString(traceID) + "-" + hex.EncodeToString(spanID) + "-01"
}

// randomID returns n random bytes, never all zero (an all-zero ID is invalid in W3C trace context)
func randomID(n int) []byte {
	b := make([]byte, n)
	if _, err := crand.Read(b); err != nil {
		clear(b)
	}
	for _, v := range b {
		if v != 0 {
			return b
		}
	}
	b[n-1] = 0x01
	return b
}

// NewTraceIDInterceptor creates a request interceptor that sets X-Request-ID when missing
func NewTraceIDInterceptor() RequestInterceptor {
	return NewTraceIDInterceptorFor(HeaderXRequestID)
}

// NewTraceIDInterceptorFor creates an interceptor that sets header when missing.
// An empty header name selects X-Request-ID.
func NewTraceIDInterceptorFor(header string) RequestInterceptor {
	if header == "" {
		header = HeaderXRequestID
	}
	return func(ctx context.Context, req *nethttp.Request) error {
		if req.Header.Get(header) == "" {
			req.Header.Set(header, GetTraceIDFromContext(ctx))
		}
		return nil
	}
}

// applyTrace resolves the trace ID for req and writes the trace headers.
// Precedence: header already on the request, then the configured extractor,
// then the generator.
func (c *client) applyTrace(ctx context.Context, httpReq *nethttp.Request) string {
	header := c.config.TraceIDHeader
	if header == "" {
		header = HeaderXRequestID
	}

	traceID := httpReq.Header.Get(header)
	if traceID == "" {
		if id, ok := c.config.TraceIDExtractor(ctx); ok {
			traceID = id
		} else {
			traceID = c.config.NewTraceID()
		}
		httpReq.Header.Set(header, traceID)
	}

	if c.config.EnableW3CTrace && httpReq.Header.Get(HeaderTraceParent) == "" {
		if tp, ok := TraceParentFromContext(ctx); ok {
			httpReq.Header.Set(HeaderTraceParent, tp)
		} else {
			httpReq.Header.Set(HeaderTraceParent, GenerateTraceParent())
		}
		if ts, ok := TraceStateFromContext(ctx); ok {
			httpReq.Header.Set(HeaderTraceState, ts)
		}
	}

	return traceID
}
