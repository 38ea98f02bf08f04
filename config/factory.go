package config

import (
	"fmt"
	"net/http/cookiejar"

	"golang.org/x/net/publicsuffix"

	"github.com/gaborage/restauth/authclient"
	"github.com/gaborage/restauth/httpclient"
	"github.com/gaborage/restauth/logger"
	"github.com/gaborage/restauth/telemetry"
)

// NewLogger builds the logger described by cfg.Log
func NewLogger(cfg *Config) *logger.ZeroLogger {
	return logger.New(cfg.Log.Level, cfg.Log.Pretty)
}

// NewTelemetry installs the exporters described by cfg.Telemetry. Call it
// before NewAuthClient so client metrics and spans reach them.
func NewTelemetry(cfg *Config, log logger.Logger) (telemetry.Provider, error) {
	return telemetry.NewProvider(&cfg.Telemetry, log)
}

// NewHTTPClient builds the transport described by cfg.HTTP. It carries a
// cookie jar so session cookies reach the refresh endpoint.
func NewHTTPClient(cfg *Config, log logger.Logger) (httpclient.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	h := cfg.HTTP
	b := httpclient.NewBuilder(log)
	if h.Tracing {
		b.WithTracing()
	}
	return b.
		WithTimeout(h.Timeout).
		WithRetries(h.MaxRetries, h.RetryDelay).
		WithRateLimit(h.RateLimit, h.RateBurst).
		WithLogPayloads(h.LogPayloads, h.MaxPayloadLogBytes).
		WithTraceIDHeader(h.TraceIDHeader).
		WithW3CTrace(h.W3CTrace).
		WithCookieJar(jar).
		Build(), nil
}

// NewAuthClient builds an authclient.Client from cfg. opts are applied after
// the configured transport, logger and default headers.
func NewAuthClient(cfg *Config, log logger.Logger, opts ...authclient.Option) (*authclient.Client, error) {
	hc, err := NewHTTPClient(cfg, log)
	if err != nil {
		return nil, err
	}

	base := []authclient.Option{
		authclient.WithHTTPClient(hc),
		authclient.WithLogger(log),
		authclient.WithDefaultHeaders(cfg.Client.Headers),
	}
	return authclient.New(cfg.Client.BaseURL, cfg.Client.AccessToken, cfg.Client.RefreshEndpoint, append(base, opts...)...)
}
