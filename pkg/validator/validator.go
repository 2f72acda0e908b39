// Package validator wraps go-playground/validator with the wall-clock rules
// request payloads use.
package validator

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// date is stored as the user sees it, YYYY-MM-DD
	_ = v.RegisterValidation("wallclock_date", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})
	// times are HH:MM, 24h
	_ = v.RegisterValidation("wallclock_time", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("15:04", fl.Field().String())
		return err == nil
	})
	return v
}

// Struct validates a struct against its validate tags.
func Struct(s interface{}) error {
	return validate.Struct(s)
}

// Var validates a single value against the given rule.
func Var(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
