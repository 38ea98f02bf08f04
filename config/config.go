package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix of every environment variable Load reads
	EnvPrefix = "RESTAUTH_"
	// DefaultFile is read when present and no explicit file was given
	DefaultFile = "config.yaml"

	headersKey = "client.headers."
)

type loadOptions struct {
	file     string
	required bool
	yaml     [][]byte
	environ  func() []string
}

// LoadOption customizes Load
type LoadOption func(*loadOptions)

// WithFile reads path instead of config.yaml. Unlike the default file it must exist.
func WithFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.file = path
		o.required = true
	}
}

// WithYAML layers raw YAML on top of the file
func WithYAML(data []byte) LoadOption {
	return func(o *loadOptions) {
		o.yaml = append(o.yaml, data)
	}
}

// WithEnviron replaces os.Environ as the source of environment variables
func WithEnviron(environ func() []string) LoadOption {
	return func(o *loadOptions) {
		o.environ = environ
	}
}

// Load loads configuration from multiple sources with priority:
// 1. Environment variables prefixed with RESTAUTH_ (highest priority)
// 2. Raw YAML passed with WithYAML
// 3. The YAML configuration file
// 4. Default values (lowest priority)
func Load(opts ...LoadOption) (*Config, error) {
	o := loadOptions{file: DefaultFile}
	for _, opt := range opts {
		opt(&o)
	}

	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := loadFile(k, o.file, o.required); err != nil {
		return nil, err
	}

	for _, data := range o.yaml {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	}

	if err := k.Load(envprovider.Provider(".", envprovider.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
		EnvironFunc:   o.environ,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return &ConfigError{
			Category: "file",
			Field:    path,
			Message:  "cannot be read",
			Details:  []string{err.Error()},
		}
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// envKey maps RESTAUTH_CLIENT_BASEURL to client.baseurl. Header names keep
// their dashes: RESTAUTH_CLIENT_HEADERS_X_API_KEY sets client.headers.x-api-key.
func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "" {
		return "", nil
	}
	key = strings.ReplaceAll(key, "_", ".")
	if name, ok := strings.CutPrefix(key, headersKey); ok && name != "" {
		return headersKey + strings.ReplaceAll(name, ".", "-"), value
	}
	return key, value
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"client.baseurl":         "",
		"client.accesstoken":     "",
		"client.refreshendpoint": "/refresh",

		"http.timeout":            "30s",
		"http.maxretries":         0,
		"http.retrydelay":         "1s",
		"http.ratelimit":          0,
		"http.rateburst":          0,
		"http.logpayloads":        false,
		"http.maxpayloadlogbytes": 1024,
		"http.traceidheader":      "X-Request-ID",
		"http.w3ctrace":           true,
		"http.tracing":            false,

		"log.level":  "info",
		"log.pretty": false,

		"telemetry.enabled":      false,
		"telemetry.service.name": "restauth",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
