package validate

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/blogpress/internal/apperrors"
)

// Errors holds user friendly message per invalid field
// Fields are named after json tags
type Errors struct {
	Fields map[string]string
}

func (e *Errors) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return fmt.Sprintf("%s: %s", apperrors.ErrValidation, strings.Join(parts, "; "))
}

func (e *Errors) Unwrap() error {
	return apperrors.ErrValidation
}

// Validator checks request shapes before anything is sent to backend
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Return on 'TagName' json tag instead of struct name
	// Look at documentation of 'RegisterTagNameFunc' for more details
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		// skip if tag key says it should be ignored
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: v}
}

// Validate struct using its tags
// Returns *Errors wrapping apperrors.ErrValidation
func (v *Validator) Struct(value any) error {
	err := v.validate.Struct(value)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}

	return newErrors(errs)
}

// Validate single value against tag, field names the value in errors
func (v *Validator) Var(field string, value any, tag string) error {
	err := v.validate.Var(value, tag)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
	}

	return &Errors{Fields: map[string]string{field: message(errs[0])}}
}

func newErrors(errs validator.ValidationErrors) *Errors {
	fields := make(map[string]string, len(errs))
	for _, fieldError := range errs {
		fields[fieldError.Field()] = message(fieldError)
	}
	return &Errors{Fields: fields}
}

// Create user-friendly error messages based on validation tag
func message(fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Value is too short (minimum %s)", fieldError.Param())
	case "max":
		return fmt.Sprintf("Value is too long (maximum %s)", fieldError.Param())
	case "email":
		return "Invalid email address"
	case "nefield":
		return "Value must differ from the current one"
	default:
		return "Invalid value"
	}
}
