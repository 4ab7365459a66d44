package memory

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	maxTagLength     = 64
	maxConceptLength = 256
)

// validate is the package validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("category", validateCategory) //nolint:errcheck
	validate.RegisterValidation("tag", validateTag)           //nolint:errcheck
	validate.RegisterValidation("concept", validateConcept)   //nolint:errcheck
}

func validateCategory(fl validator.FieldLevel) bool {
	return Category(fl.Field().String()).Valid()
}

func validateTag(fl validator.FieldLevel) bool {
	return wellFormed(fl.Field().String(), maxTagLength)
}

func validateConcept(fl validator.FieldLevel) bool {
	return wellFormed(fl.Field().String(), maxConceptLength)
}

// wellFormed reports whether s is non-blank, within maxLen runes and free of
// control characters.
func wellFormed(s string, maxLen int) bool {
	if strings.TrimSpace(s) == "" || utf8.RuneCountInString(s) > maxLen {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// validateInput runs struct validation and converts the first failure into a
// *ValidationError.
func validateInput(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{
			Field:  strings.ToLower(fe.Field()),
			Reason: formatFieldError(fe),
		}
	}
	return &ValidationError{Field: "input", Reason: err.Error()}
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be >= %s (got %v)", fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("must be <= %s (got %v)", fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("exceeds maximum %s", fe.Param())
	case "category":
		return fmt.Sprintf("unknown category %q", fe.Value())
	case "tag":
		return fmt.Sprintf("malformed tag %q", fe.Value())
	case "concept":
		return fmt.Sprintf("malformed concept %q", fe.Value())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
