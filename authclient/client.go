package authclient

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"github.com/gaborage/restauth/authclient/internal/tracking"
	"github.com/gaborage/restauth/httpclient"
	"github.com/gaborage/restauth/logger"
)

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	bearerPrefix        = "Bearer "
	refreshFlightKey    = "refresh"
)

// SessionEndReason tells a SessionEndedHook why the session cannot be renewed
type SessionEndReason string

const (
	// SessionEndNoToken means the refresh endpoint succeeded without returning a token
	SessionEndNoToken SessionEndReason = "no_token"
	// SessionEndRefreshRejected means the refresh endpoint answered non-2xx
	SessionEndRefreshRejected SessionEndReason = "refresh_rejected"
)

// SessionEndedHook is notified when a refresh shows the session is over.
// It runs synchronously on the goroutine performing the refresh and must not
// call back into the client's refresh path.
type SessionEndedHook func(ctx context.Context, reason SessionEndReason)

// Client is an authenticated REST client. It is safe for concurrent use.
type Client struct {
	baseURL         string
	refreshEndpoint string
	headers         map[string]string
	transport       httpclient.Client
	logger          logger.Logger
	onSessionEnded  SessionEndedHook

	mu    sync.RWMutex
	token string

	refreshGroup singleflight.Group
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the transport used for every call, including refreshes
func WithHTTPClient(hc httpclient.Client) Option {
	return func(c *Client) {
		c.transport = hc
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		c.logger = log
	}
}

// WithDefaultHeader adds a header sent with every call except refreshes
func WithDefaultHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[nethttp.CanonicalHeaderKey(key)] = value
	}
}

// WithDefaultHeaders adds several default headers
func WithDefaultHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[nethttp.CanonicalHeaderKey(k)] = v
		}
	}
}

// WithSessionEndedHook registers a hook for refreshes that end the session
func WithSessionEndedHook(hook SessionEndedHook) Option {
	return func(c *Client) {
		c.onSessionEnded = hook
	}
}

// New creates a client for baseURL. Endpoints and refreshEndpoint are
// appended to baseURL verbatim.
func New(baseURL, accessToken, refreshEndpoint string, opts ...Option) (*Client, error) {
	if err := validateBaseURL(baseURL); err != nil {
		return nil, err
	}
	if strings.TrimSpace(refreshEndpoint) == "" {
		return nil, errors.New("authclient: refresh endpoint is required")
	}

	c := &Client{
		baseURL:         baseURL,
		refreshEndpoint: refreshEndpoint,
		headers:         map[string]string{headerContentType: "application/json"},
		token:           accessToken,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	if c.transport == nil {
		transport, err := newDefaultTransport(c.logger)
		if err != nil {
			return nil, err
		}
		c.transport = transport
	}

	return c, nil
}

// newDefaultTransport builds an httpclient with a cookie jar so session
// cookies set by the backend reach the refresh endpoint.
func newDefaultTransport(log logger.Logger) (httpclient.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("authclient: create cookie jar: %w", err)
	}
	return httpclient.NewBuilder(log).WithCookieJar(jar).Build(), nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("authclient: invalid base URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("authclient: base URL %q must be an absolute http(s) URL", raw)
	}
	return nil
}

// BaseURL returns the address every endpoint is appended to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the current access token
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the access token, e.g. after an application login
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) endSession(ctx context.Context, reason SessionEndReason) {
	c.logger.Warn().Str("reason", string(reason)).Msg("Session ended")
	tracking.RecordSessionEnded(ctx, string(reason))
	if c.onSessionEnded != nil {
		c.onSessionEnded(ctx, reason)
	}
}
