package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// environments lists the accepted app.environment values.
var environments = []string{"development", "staging", "production"}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("env", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return slices.Contains(environments, fl.Field().String())
	})
	v.RegisterStructValidation(validateStorage, StorageConfig{})
	v.RegisterStructValidation(validateVector, VectorConfig{})
	v.RegisterStructValidation(validateTracing, TracingConfig{})
	return v
}

// validateStorage requires the settings of the selected backend.
func validateStorage(sl validator.StructLevel) {
	s := sl.Current().Interface().(StorageConfig)
	switch s.Type {
	case "badger":
		if strings.TrimSpace(s.Badger.Path) == "" {
			sl.ReportError(s.Badger.Path, "Badger.Path", "Path", "required_for", s.Type)
		}
	case "redis":
		if strings.TrimSpace(s.Redis.Address) == "" {
			sl.ReportError(s.Redis.Address, "Redis.Address", "Address", "required_for", s.Type)
		}
	}
}

// validateVector requires the settings of the selected mirror.
func validateVector(sl validator.StructLevel) {
	v := sl.Current().Interface().(VectorConfig)
	if v.Type == "qdrant" && strings.TrimSpace(v.Qdrant.Host) == "" {
		sl.ReportError(v.Qdrant.Host, "Qdrant.Host", "Host", "required_for", v.Type)
	}
}

func validateTracing(sl validator.StructLevel) {
	t := sl.Current().Interface().(TracingConfig)
	if t.Enabled && strings.TrimSpace(t.Endpoint) == "" {
		sl.ReportError(t.Endpoint, "Endpoint", "Endpoint", "required_for", "enabled tracing")
	}
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	lines := make([]string, 0, len(e)+1)
	lines = append(lines, "configuration validation failed:")
	for _, err := range e {
		lines = append(lines, "  - "+err.Error())
	}
	return strings.Join(lines, "\n") + "\n"
}

// ValidateWithDetails validates cfg and returns ValidationErrors listing
// every rejected field.
func ValidateWithDetails(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	details := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, ConfigError{
			Field:   fe.Namespace(),
			Message: formatValidationError(fe),
			Value:   fe.Value(),
		})
	}
	return details
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "required_for":
		return fmt.Sprintf("is required for %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "env":
		return fmt.Sprintf("must be one of [%s]", strings.Join(environments, " "))
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
