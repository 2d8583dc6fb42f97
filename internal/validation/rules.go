// Package validation provides custom validation rules for the application.
package validation

import (
	"math"
	"regexp"
	"strings"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/batchdonations/internal/errors"
)

var (
	// identifierRegex matches external user and organization references.
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@\-]*$`)
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// Identifier validates an opaque reference such as a user or organization id.
var Identifier = validation.NewStringRuleWithError(
	func(s string) bool {
		return identifierRegex.MatchString(s)
	},
	validation.NewError(
		"validation_identifier",
		"must start with a letter or digit and contain only letters, digits, '_', '.', ':', '@' or '-'",
	),
)

// NoWhitespace validates that string doesn't contain leading/trailing whitespace
var NoWhitespace = validation.NewStringRuleWithError(
	func(s string) bool {
		return s == strings.TrimSpace(s)
	},
	validation.NewError("validation_no_whitespace", "must not contain leading or trailing whitespace"),
)

// NotBlank validates that a string is not empty after trimming whitespace
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)

// MoneyPrecision validates that an amount has at most two decimal places.
type MoneyPrecision struct{}

// Validate checks float64 values; other types are ignored.
func (MoneyPrecision) Validate(value interface{}) error {
	amount, ok := value.(float64)
	if !ok {
		return nil
	}
	cents := amount * 100
	if math.Abs(cents-math.Round(cents)) > 1e-6 {
		return validation.NewError("validation_money_precision", "must have at most two decimal places")
	}
	return nil
}
