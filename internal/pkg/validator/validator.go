package validator

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/langboard/botengine/internal/domain/models"
	"github.com/langboard/botengine/internal/scheduler/cron"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	validate.RegisterValidation("cron", validateCron)
	validate.RegisterValidation("scope_kind", validateScopeKind)
	validate.RegisterValidation("schedule_type", validateScheduleType)
	validate.RegisterValidation("timezone", validateTimezone)
}

func Get() *validator.Validate {
	return validate
}

func Validate(s interface{}) error {
	return validate.Struct(s)
}

func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}

// Custom validators

func validateCron(fl validator.FieldLevel) bool {
	_, err := cron.Normalize(fl.Field().String())
	return err == nil
}

func validateScopeKind(fl validator.FieldLevel) bool {
	return models.ScopeKind(fl.Field().String()).Valid()
}

func validateScheduleType(fl validator.FieldLevel) bool {
	return models.BotScheduleRunningType(fl.Field().String()).Valid()
}

// validateTimezone accepts anything the interval shifter can read; DST
// policy is checked later, when the offset is resolved.
func validateTimezone(fl validator.FieldLevel) bool {
	_, err := cron.ParseTimezone(fl.Field().String(), true)
	return err == nil
}

// Error formatting
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func FormatErrors(err error) []ValidationError {
	var errs []ValidationError

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			errs = append(errs, ValidationError{
				Field:   toSnakeCase(e.Field()),
				Message: formatMessage(e),
			})
		}
	}

	return errs
}

// Summary joins the formatted errors into one line.
func Summary(err error) string {
	parts := make([]string, 0)
	for _, e := range FormatErrors(err) {
		parts = append(parts, e.Field+": "+e.Message)
	}
	if len(parts) == 0 {
		return err.Error()
	}
	return strings.Join(parts, "; ")
}

func formatMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "max":
		return "Value is too long"
	case "oneof":
		return "Value must be one of: " + e.Param()
	case "cron":
		return "Invalid cron expression"
	case "scope_kind":
		return "Unknown scope kind"
	case "schedule_type":
		return "Unknown schedule running type"
	case "timezone":
		return "Invalid timezone"
	case "gtfield":
		return "Must be after " + toSnakeCase(e.Param())
	default:
		return "Invalid value"
	}
}

func toSnakeCase(str string) string {
	var result strings.Builder
	for i, r := range str {
		if i > 0 && 'A' <= r && r <= 'Z' {
			result.WriteRune('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
