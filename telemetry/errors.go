package telemetry

import "errors"

// ErrMissingServiceName is returned when telemetry is enabled but no service name is configured.
var ErrMissingServiceName = errors.New("telemetry: service name is required when telemetry is enabled")

// ErrInvalidSampleRate is returned when the trace sample rate is outside [0.0, 1.0].
var ErrInvalidSampleRate = errors.New("telemetry: trace sample rate must be between 0.0 and 1.0")

// ErrInvalidProtocol is returned when the protocol is not "http" or "grpc".
var ErrInvalidProtocol = errors.New("telemetry: protocol must be either 'http' or 'grpc'")

// ErrInvalidEndpointFormat is returned when the endpoint format doesn't match the protocol.
// gRPC endpoints use "host:port"; HTTP endpoints must include the http:// or https:// scheme.
var ErrInvalidEndpointFormat = errors.New("telemetry: invalid endpoint format for protocol")

// ErrInvalidCompression is returned when the compression value is not "gzip" or "none".
var ErrInvalidCompression = errors.New("telemetry: compression must be either 'gzip' or 'none'")
