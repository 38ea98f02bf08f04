package httpclient

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/gaborage/restauth/logger"
)

// Builder provides a fluent interface for configuring the REST client
type Builder struct {
	config     *Config
	logger     logger.Logger
	httpClient *nethttp.Client
	transport  nethttp.RoundTripper
	jar        nethttp.CookieJar
	tracing    bool
}

// NewBuilder creates a new client builder
func NewBuilder(log logger.Logger) *Builder {
	return &Builder{
		config: &Config{
			Timeout:              DefaultTimeout,
			MaxRetries:           DefaultMaxRetries,
			RetryDelay:           DefaultRetryDelay,
			RequestInterceptors:  []RequestInterceptor{},
			ResponseInterceptors: []ResponseInterceptor{},
			DefaultHeaders:       make(map[string]string),
			MaxPayloadLogBytes:   DefaultMaxPayloadLogBytes,
			TraceIDHeader:        HeaderXRequestID,
			NewTraceID:           func() string { return uuid.New().String() },
			TraceIDExtractor:     TraceIDFromContext,
			EnableW3CTrace:       true,
		},
		logger: log,
	}
}

// WithTimeout sets the request timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

// WithRetries sets the retry configuration
func (b *Builder) WithRetries(maxRetries int, retryDelay time.Duration) *Builder {
	b.config.MaxRetries = maxRetries
	b.config.RetryDelay = retryDelay
	return b
}

// WithBasicAuth sets basic authentication credentials
func (b *Builder) WithBasicAuth(username, password string) *Builder {
	b.config.BasicAuth = &BasicAuth{
		Username: username,
		Password: password,
	}
	return b
}

// WithDefaultHeader adds a default header that will be sent with all requests
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders[key] = value
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.config.RequestInterceptors = append(b.config.RequestInterceptors, interceptor)
	return b
}

// WithResponseInterceptor adds a response interceptor
func (b *Builder) WithResponseInterceptor(interceptor ResponseInterceptor) *Builder {
	b.config.ResponseInterceptors = append(b.config.ResponseInterceptors, interceptor)
	return b
}

// WithHTTPClient uses hc for every call. The pointer is kept as is; its
// Timeout is only set when zero.
func (b *Builder) WithHTTPClient(hc *nethttp.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithTransport sets the round tripper of the underlying http.Client
func (b *Builder) WithTransport(rt nethttp.RoundTripper) *Builder {
	b.transport = rt
	return b
}

// WithCookieJar attaches a cookie jar, so cookies set by the server are replayed
func (b *Builder) WithCookieJar(jar nethttp.CookieJar) *Builder {
	b.jar = jar
	return b
}

// WithRateLimit caps outbound calls at rps per second with the given burst.
// A non-positive rps disables limiting.
func (b *Builder) WithRateLimit(rps float64, burst int) *Builder {
	b.config.RateLimit = rps
	b.config.RateBurst = burst
	return b
}

// WithTracing wraps the transport with OpenTelemetry client instrumentation
func (b *Builder) WithTracing() *Builder {
	b.tracing = true
	return b
}

// WithLogPayloads enables debug payload logging capped at maxBytes per body
func (b *Builder) WithLogPayloads(enabled bool, maxBytes int) *Builder {
	b.config.LogPayloads = enabled
	if maxBytes > 0 {
		b.config.MaxPayloadLogBytes = maxBytes
	}
	return b
}

// WithTraceIDHeader sets the header carrying the trace ID
func (b *Builder) WithTraceIDHeader(header string) *Builder {
	if header != "" {
		b.config.TraceIDHeader = header
	}
	return b
}

// WithTraceIDGenerator sets the generator used when no trace ID is available
func (b *Builder) WithTraceIDGenerator(fn func() string) *Builder {
	if fn != nil {
		b.config.NewTraceID = fn
	}
	return b
}

// WithTraceIDExtractor sets how a trace ID is read from the request context
func (b *Builder) WithTraceIDExtractor(fn func(ctx context.Context) (string, bool)) *Builder {
	if fn != nil {
		b.config.TraceIDExtractor = fn
	}
	return b
}

// WithW3CTrace toggles traceparent/tracestate propagation
func (b *Builder) WithW3CTrace(enabled bool) *Builder {
	b.config.EnableW3CTrace = enabled
	return b
}

// Build creates the REST client with the configured options
func (b *Builder) Build() Client {
	hc := b.httpClient
	if hc == nil {
		hc = &nethttp.Client{}
	}
	if hc.Timeout == 0 {
		hc.Timeout = b.config.Timeout
	}
	if b.transport != nil {
		hc.Transport = b.transport
	}
	if b.jar != nil {
		hc.Jar = b.jar
	}
	if b.tracing {
		base := hc.Transport
		if base == nil {
			base = nethttp.DefaultTransport
		}
		hc.Transport = otelhttp.NewTransport(base)
	}

	var limiter *rate.Limiter
	if b.config.RateLimit > 0 {
		burst := b.config.RateBurst
		if burst <= 0 {
			burst = max(1, int(b.config.RateLimit))
		}
		limiter = rate.NewLimiter(rate.Limit(b.config.RateLimit), burst)
	}

	return &client{
		httpClient:           hc,
		logger:               b.logger,
		config:               b.config,
		requestInterceptors:  b.config.RequestInterceptors,
		responseInterceptors: b.config.ResponseInterceptors,
		limiter:              limiter,
	}
}
