package telemetry

import (
	"strings"
	"time"
)

const (
	// EndpointStdout writes telemetry to stdout instead of an OTLP collector.
	EndpointStdout = "stdout"

	// ProtocolHTTP specifies OTLP over HTTP/protobuf.
	ProtocolHTTP = "http"

	// ProtocolGRPC specifies OTLP over gRPC.
	ProtocolGRPC = "grpc"

	// CompressionGzip specifies gzip compression for OTLP export.
	CompressionGzip = "gzip"

	// CompressionNone specifies no compression for OTLP export.
	CompressionNone = "none"

	// EnvironmentDevelopment is the default environment name.
	EnvironmentDevelopment = "development"
)

// Config selects where the client's spans and metrics are exported.
type Config struct {
	// Enabled controls whether telemetry is active. When false NewProvider
	// returns a no-op provider.
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled"`

	Service     ServiceConfig `koanf:"service" json:"service" yaml:"service"`
	Environment string        `koanf:"environment" json:"environment" yaml:"environment"`

	Trace   TraceConfig   `koanf:"trace" json:"trace" yaml:"trace"`
	Metrics MetricsConfig `koanf:"metrics" json:"metrics" yaml:"metrics"`
}

// ServiceConfig identifies the calling service in exported telemetry.
type ServiceConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name"`
	Version string `koanf:"version" json:"version" yaml:"version"`
}

// TraceConfig configures span export.
type TraceConfig struct {
	Enabled bool `koanf:"enabled" json:"enabled" yaml:"enabled"`

	// Endpoint is "stdout", an http(s) URL for OTLP/HTTP or host:port for OTLP/gRPC.
	Endpoint    string            `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Protocol    string            `koanf:"protocol" json:"protocol" yaml:"protocol"`
	Insecure    bool              `koanf:"insecure" json:"insecure" yaml:"insecure"`
	Headers     map[string]string `koanf:"headers" json:"-" yaml:"headers"`
	Compression string            `koanf:"compression" json:"compression" yaml:"compression"`

	// SampleRate is the fraction of traces kept. nil means 1.0.
	SampleRate   *float64      `koanf:"samplerate" json:"samplerate" yaml:"samplerate"`
	BatchTimeout time.Duration `koanf:"batchtimeout" json:"batchtimeout" yaml:"batchtimeout"`
}

// MetricsConfig configures metric export. Protocol, TLS and headers are shared with traces.
type MetricsConfig struct {
	Enabled  bool          `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Endpoint string        `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval"`
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Service.Version == "" {
		c.Service.Version = "unknown"
	}
	if c.Environment == "" {
		c.Environment = EnvironmentDevelopment
	}

	if c.Trace.Endpoint == "" {
		c.Trace.Endpoint = EndpointStdout
	}
	if c.Trace.Protocol == "" {
		c.Trace.Protocol = ProtocolHTTP
	}
	if c.Trace.Compression == "" {
		c.Trace.Compression = CompressionGzip
	}
	if c.Trace.SampleRate == nil {
		c.Trace.SampleRate = Float64Ptr(1.0)
	}
	if c.Trace.BatchTimeout == 0 {
		if c.Trace.Endpoint == EndpointStdout {
			c.Trace.BatchTimeout = 500 * time.Millisecond
		} else {
			c.Trace.BatchTimeout = 5 * time.Second
		}
	}

	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = c.Trace.Endpoint
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = 10 * time.Second
	}
}

// Validate checks the configuration. A disabled configuration is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Service.Name == "" {
		return ErrMissingServiceName
	}

	if c.Trace.SampleRate != nil && (*c.Trace.SampleRate < 0.0 || *c.Trace.SampleRate > 1.0) {
		return ErrInvalidSampleRate
	}
	if c.Trace.Compression != "" && c.Trace.Compression != CompressionGzip && c.Trace.Compression != CompressionNone {
		return ErrInvalidCompression
	}

	protocol := c.Trace.Protocol
	if protocol == "" {
		protocol = ProtocolHTTP
	}
	if protocol != ProtocolHTTP && protocol != ProtocolGRPC {
		return ErrInvalidProtocol
	}

	if c.Trace.Enabled {
		if err := validateEndpointFormat(c.Trace.Endpoint, protocol); err != nil {
			return err
		}
	}
	if c.Metrics.Enabled {
		return validateEndpointFormat(c.Metrics.Endpoint, protocol)
	}
	return nil
}

func validateEndpointFormat(endpoint, protocol string) error {
	if endpoint == EndpointStdout || endpoint == "" {
		return nil
	}

	hasScheme := strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
	if protocol == ProtocolGRPC && hasScheme {
		return ErrInvalidEndpointFormat
	}
	if protocol == ProtocolHTTP && !hasScheme {
		return ErrInvalidEndpointFormat
	}
	return nil
}
