package contract

import (
	"fmt"
	"reflect"
	"strings"

	"cymbytes.com/doppelganger/pkg/simulation"
	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Validator runs struct-tag validation over decoded stage outputs and run input.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator with the custom rules registered.
func NewValidator() *Validator {
	v := validator.New()

	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("has_token", validateHasToken)

	return &Validator{validate: v}
}

// Struct validates s and returns every failed rule.
func (v *Validator) Struct(s interface{}) []ValidationError {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Rule: "invalid", Message: err.Error()}}
	}

	errs := make([]ValidationError, 0, len(validationErrors))
	for _, e := range validationErrors {
		errs = append(errs, ValidationError{
			Field:   fieldPath(e.Namespace()),
			Rule:    e.Tag(),
			Message: formatValidationError(e),
		})
	}
	return errs
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func validateHasToken(fl validator.FieldLevel) bool {
	return strings.Contains(fl.Field().String(), simulation.TokenPlaceholder)
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", e.Field(), e.Param())
	case "eq":
		return fmt.Sprintf("%s must be %s", e.Field(), e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param())
	case "unique":
		return fmt.Sprintf("%s must not contain duplicate %s values", e.Field(), e.Param())
	case "has_token":
		return fmt.Sprintf("%s must contain the %s placeholder", e.Field(), simulation.TokenPlaceholder)
	default:
		return fmt.Sprintf("%s failed validation: %s", e.Field(), e.Tag())
	}
}
