package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their koanf path instead of the Go field name
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks cfg against its struct tags. Field failures are returned
// as a *ValidationError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	verr := &ValidationError{}

	if err := configValidator().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			verr.Errors = append(verr.Errors, toConfigError(fe))
		}
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		verr.Errors = append(verr.Errors, NewInvalidFieldError("telemetry", err.Error(), nil))
	}

	if len(verr.Errors) == 0 {
		return nil
	}
	return verr
}

func toConfigError(fe validator.FieldError) *ConfigError {
	// Namespace is "Config.client.baseurl"; drop the root type name
	_, field, _ := strings.Cut(fe.Namespace(), ".")

	switch fe.Tag() {
	case "required":
		return NewMissingFieldError(field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %q", fe.Value()), strings.Fields(fe.Param()))
	case "http_url":
		return NewInvalidFieldError(field, "must be an absolute http(s) url", nil)
	case "startswith":
		return NewInvalidFieldError(field, fmt.Sprintf("must start with %q", fe.Param()), nil)
	case "min":
		return NewInvalidFieldError(field, fmt.Sprintf("must be at least %s", fe.Param()), nil)
	default:
		return NewInvalidFieldError(field, fmt.Sprintf("failed %s validation", fe.Tag()), nil)
	}
}
