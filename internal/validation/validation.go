// Package validation checks staff API request bodies. It wraps
// go-playground/validator with tags for the lead enums and phone numbers,
// and reports failures per field.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jkindrix/plumbot/internal/domain"
)

// ValidationError is one field failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects field failures.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Error codes.
const (
	CodeRequired      = "required"
	CodeInvalidFormat = "invalid_format"
	CodeTooLong       = "too_long"
	CodeTooShort      = "too_short"
	CodeInvalidValue  = "invalid_value"
)

// phoneRegex matches WhatsApp ids: E.164 digits without the plus.
var phoneRegex = regexp.MustCompile(`^[1-9]\d{6,14}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names, not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "phone", func(fl validator.FieldLevel) bool {
		return Phone(fl.Field().String())
	})
	mustRegister(v, "lead_status", func(fl validator.FieldLevel) bool {
		return domain.LeadStatus(fl.Field().String()).Valid()
	})
	mustRegister(v, "plan_status", func(fl validator.FieldLevel) bool {
		return domain.PlanStatus(fl.Field().String()).Valid()
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("validation: register %s: %v", tag, err))
	}
}

// Phone reports whether s looks like a WhatsApp phone id. Formatting
// characters and a leading plus are tolerated.
func Phone(s string) bool {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "").Replace(s)
	return phoneRegex.MatchString(cleaned)
}

// Struct validates s against its `validate` tags. The error, when not nil,
// is a ValidationErrors.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, toValidationError(fe))
	}
	return out
}

func toValidationError(fe validator.FieldError) ValidationError {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return ValidationError{field, "is required", CodeRequired}
	case "max":
		return ValidationError{field, fmt.Sprintf("must be at most %s characters", fe.Param()), CodeTooLong}
	case "min":
		return ValidationError{field, fmt.Sprintf("must be at least %s characters", fe.Param()), CodeTooShort}
	case "phone":
		return ValidationError{field, "must be a phone number in international format", CodeInvalidFormat}
	case "lead_status":
		return ValidationError{field, "must be one of: pending, in_progress, confirmed, completed, cancelled, no_show", CodeInvalidValue}
	case "plan_status":
		return ValidationError{field, "must be one of: none, pending_upload, plan_uploaded, plan_reviewed, ready_to_book", CodeInvalidValue}
	}
	return ValidationError{field, "is invalid", CodeInvalidValue}
}
