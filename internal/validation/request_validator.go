package validation

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

// legacy devices use 40 hex digits, newer ones 8-16 hex digits with a dash
var udidPattern = regexp.MustCompile(`^(?:[0-9a-fA-F]{40}|[0-9a-fA-F]{8}-[0-9a-fA-F]{16})$`)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("udid", validateUDID)
}

// ValidateRequest checks a request struct against its validate tags.
func ValidateRequest(req any) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// ValidateUDID checks a single device identifier.
func ValidateUDID(udid string) error {
	if err := validate.Var(udid, "required,udid"); err != nil {
		return fmt.Errorf("invalid device id %q: %w", udid, err)
	}
	return nil
}

func validateUDID(fl validator.FieldLevel) bool {
	return udidPattern.MatchString(fl.Field().String())
}
