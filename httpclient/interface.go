package httpclient

import (
	"context"
	nethttp "net/http"
	"time"
)

// Client defines the REST client interface for making HTTP requests
type Client interface {
	Get(ctx context.Context, req *Request) (*Response, error)
	Post(ctx context.Context, req *Request) (*Response, error)
	Put(ctx context.Context, req *Request) (*Response, error)
	Patch(ctx context.Context, req *Request) (*Response, error)
	Delete(ctx context.Context, req *Request) (*Response, error)
	Do(ctx context.Context, method string, req *Request) (*Response, error)
}

// Request describes one outbound call
type Request struct {
	URL     string
	Headers map[string]string
	Body    []byte
	Auth    *BasicAuth
	// Retry narrows which failures are retried when MaxRetries > 0
	Retry RetryPolicy
}

// RetryPolicy selects the failures Do may retry
type RetryPolicy int

const (
	// RetryDefault retries network errors and 5xx responses
	RetryDefault RetryPolicy = iota
	// RetryNetworkOnly retries network errors; every HTTP status is final
	RetryNetworkOnly
	// RetryNever sends the request exactly once
	RetryNever
)

// Response is the fully read result of a call
type Response struct {
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
	Stats      Stats
}

// Stats contains request execution statistics
type Stats struct {
	ElapsedTime time.Duration
	CallCount   int64
}

// BasicAuth contains basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// RequestInterceptor is called before sending the request
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor is called after receiving the response
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// Config holds the REST client configuration
type Config struct {
	Timeout              time.Duration
	MaxRetries           int
	RetryDelay           time.Duration
	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor
	BasicAuth            *BasicAuth
	DefaultHeaders       map[string]string
	// LogPayloads enables debug-level logging of headers and body payloads
	LogPayloads bool
	// MaxPayloadLogBytes caps the number of body bytes logged when LogPayloads is enabled
	MaxPayloadLogBytes int
	// TraceIDHeader is the header carrying the trace ID (default: X-Request-ID)
	TraceIDHeader string
	// NewTraceID generates a trace ID when none is present (default: uuid)
	NewTraceID func() string
	// TraceIDExtractor reads a trace ID from context; ok=false falls back to NewTraceID
	TraceIDExtractor func(ctx context.Context) (traceID string, ok bool)
	// EnableW3CTrace propagates or generates traceparent/tracestate headers
	EnableW3CTrace bool
	// RateLimit caps outbound requests per second; zero disables limiting
	RateLimit float64
	// RateBurst is the limiter bucket size (default: max(1, RateLimit))
	RateBurst int
}
