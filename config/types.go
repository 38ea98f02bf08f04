package config

import (
	"time"

	"github.com/gaborage/restauth/telemetry"
)

// Config is the complete restauth configuration.
type Config struct {
	Client ClientConfig `koanf:"client" json:"client" yaml:"client" validate:"required"`
	HTTP   HTTPConfig   `koanf:"http" json:"http" yaml:"http" validate:"required"`
	Log    LogConfig    `koanf:"log" json:"log" yaml:"log" validate:"required"`

	// Telemetry is checked by telemetry.Config.Validate
	Telemetry telemetry.Config `koanf:"telemetry" json:"telemetry" yaml:"telemetry" validate:"-"`
}

// ClientConfig describes the backend the authenticated client talks to.
type ClientConfig struct {
	BaseURL         string            `koanf:"baseurl" json:"baseurl" yaml:"baseurl" validate:"required,http_url"`
	AccessToken     string            `koanf:"accesstoken" json:"-" yaml:"accesstoken"`
	RefreshEndpoint string            `koanf:"refreshendpoint" json:"refreshendpoint" yaml:"refreshendpoint" validate:"required,startswith=/"`
	Headers         map[string]string `koanf:"headers" json:"headers" yaml:"headers"`
}

// HTTPConfig tunes the underlying transport.
type HTTPConfig struct {
	Timeout    time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"min=0"`
	MaxRetries int           `koanf:"maxretries" json:"maxretries" yaml:"maxretries" validate:"min=0"`
	RetryDelay time.Duration `koanf:"retrydelay" json:"retrydelay" yaml:"retrydelay" validate:"min=0"`
	// RateLimit is in requests per second; zero disables limiting
	RateLimit          float64 `koanf:"ratelimit" json:"ratelimit" yaml:"ratelimit" validate:"min=0"`
	RateBurst          int     `koanf:"rateburst" json:"rateburst" yaml:"rateburst" validate:"min=0"`
	LogPayloads        bool    `koanf:"logpayloads" json:"logpayloads" yaml:"logpayloads"`
	MaxPayloadLogBytes int     `koanf:"maxpayloadlogbytes" json:"maxpayloadlogbytes" yaml:"maxpayloadlogbytes" validate:"min=0"`
	TraceIDHeader      string  `koanf:"traceidheader" json:"traceidheader" yaml:"traceidheader" validate:"required"`
	W3CTrace           bool    `koanf:"w3ctrace" json:"w3ctrace" yaml:"w3ctrace"`
	// Tracing wraps the transport with OpenTelemetry client spans
	Tracing bool `koanf:"tracing" json:"tracing" yaml:"tracing"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}
