package tracking

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// Meter name for authenticated client instrumentation
	authMeterName = "restauth/authclient"

	// Histogram in seconds, following the OTel HTTP client semantic convention
	metricRequestDuration = "http.client.request.duration"

	metricTokenRefresh = "restauth.token.refresh" // Counter, one per refresh attempt
	metricSessionEnded = "restauth.session.ended" // Counter, one per hook invocation

	attrHTTPMethod    = "http.request.method"
	attrHTTPStatus    = "http.response.status_code"
	attrErrorType     = "error.type"
	attrRetried       = "restauth.retried"
	attrRefreshResult = "restauth.refresh.outcome"
	attrSessionReason = "restauth.session.reason"
)

// Refresh outcomes
const (
	RefreshSuccess  = "success"
	RefreshNoToken  = "no_token"
	RefreshRejected = "rejected"
	RefreshFailed   = "error"
)

// Error classes recorded on request metrics
const (
	ErrorRequest  = "request"
	ErrorInternal = "internal"
)

var (
	authMeter     metric.Meter
	meterOnce     sync.Once
	meterInitMu   sync.Mutex
	metricsInited bool

	requestDuration metric.Float64Histogram
	refreshCounter  metric.Int64Counter
	sessionCounter  metric.Int64Counter
)

func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize restauth metric %s: %v\n", metricName, err)
	}
}

func initAuthMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if authMeter != nil {
		return
	}

	authMeter = otel.Meter(authMeterName)

	var err error
	requestDuration, err = authMeter.Float64Histogram(
		metricRequestDuration,
		metric.WithDescription("Duration of authenticated REST calls, including any refresh and replay"),
		metric.WithUnit("s"),
	)
	logMetricError(metricRequestDuration, err)

	refreshCounter, err = authMeter.Int64Counter(
		metricTokenRefresh,
		metric.WithDescription("Number of access token refresh attempts"),
		metric.WithUnit("{refresh}"),
	)
	logMetricError(metricTokenRefresh, err)

	sessionCounter, err = authMeter.Int64Counter(
		metricSessionEnded,
		metric.WithDescription("Number of sessions reported as ended"),
		metric.WithUnit("{session}"),
	)
	logMetricError(metricSessionEnded, err)

	metricsInited = true
}

func ensureAuthMeterInitialized() {
	meterOnce.Do(initAuthMeter)
}

// RecordRequest records the duration of one authenticated call.
// status is the final HTTP status, or 0 when no response was obtained.
// errorClass is empty on success.
func RecordRequest(ctx context.Context, method string, status int, retried bool, duration time.Duration, errorClass string) {
	ensureAuthMeterInitialized()
	if requestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrHTTPMethod, method),
		attribute.Bool(attrRetried, retried),
	}
	if status > 0 {
		attrs = append(attrs, attribute.Int(attrHTTPStatus, status))
	}
	if errorClass != "" {
		attrs = append(attrs, attribute.String(attrErrorType, errorClass))
	}

	requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRefresh counts a refresh attempt by outcome
func RecordRefresh(ctx context.Context, outcome string) {
	ensureAuthMeterInitialized()
	if refreshCounter != nil {
		refreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(attrRefreshResult, outcome)))
	}
}

// RecordSessionEnded counts a session-ended notification by reason
func RecordSessionEnded(ctx context.Context, reason string) {
	ensureAuthMeterInitialized()
	if sessionCounter != nil {
		sessionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(attrSessionReason, reason)))
	}
}

// IsInitialized returns true if metrics have been initialized.
func IsInitialized() bool {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()
	return metricsInited
}

// ResetForTesting resets the metric state for testing purposes.
func ResetForTesting() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	authMeter = nil
	requestDuration = nil
	refreshCounter = nil
	sessionCounter = nil
	metricsInited = false
	meterOnce = sync.Once{}
}
