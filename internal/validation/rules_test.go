package validation

import (
	"testing"

	validation "github.com/jellydator/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/batchdonations/internal/errors"
)

func TestRules(t *testing.T) {
	tests := []struct {
		rule  validation.Rule
		name  string
		valid []any
		bad   []any
	}{
		{
			rule:  Identifier,
			name:  "identifier",
			valid: []any{"user123", "onlus:red-cross_01", "admin@example.org", "0190a5b2-7f3e-7c1a-9b4e-2d8f6a1c3e5b"},
			bad:   []any{"-user", "user 1", "user/1", "_hidden"},
		},
		{
			rule:  NoWhitespace,
			name:  "no_whitespace",
			valid: []any{"onlus-7", "valid string"},
			bad:   []any{" onlus-7", "onlus-7 ", "\tonlus-7"},
		},
		{
			rule:  NotBlank,
			name:  "not_blank",
			valid: []any{"ops-team", " x "},
			bad:   []any{"   ", " \t\n "},
		},
		{
			rule:  MoneyPrecision{},
			name:  "money_precision",
			valid: []any{25.0, 10.99, 0.5, "12.345", 3},
			bad:   []any{1.005, 0.001, 19.999},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range tt.valid {
				assert.NoError(t, tt.rule.Validate(v), "%v", v)
			}
			for _, v := range tt.bad {
				assert.Error(t, tt.rule.Validate(v), "%v", v)
			}
		})
	}
}

// Rules compose with built-ins on a request shaped like a donation.
func TestRules_OnStruct(t *testing.T) {
	type donation struct {
		UserID  string
		OnlusID string
		Amount  float64
	}

	validate := func(d donation) error {
		return validation.ValidateStruct(&d,
			validation.Field(&d.UserID, validation.Required, NotBlank, Identifier),
			validation.Field(&d.OnlusID, validation.Required, Identifier),
			validation.Field(&d.Amount, validation.Required, validation.Min(0.01), MoneyPrecision{}),
		)
	}

	require.NoError(t, validate(donation{UserID: "u-1", OnlusID: "org:7", Amount: 12.5}))

	err := validate(donation{UserID: "u 1", OnlusID: "org:7", Amount: 12.345})
	require.Error(t, err)
	var fieldErrs validation.Errors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Contains(t, fieldErrs, "UserID")
	assert.Contains(t, fieldErrs, "Amount")
	assert.NotContains(t, fieldErrs, "OnlusID")
}

func TestWrapValidationError(t *testing.T) {
	assert.NoError(t, WrapValidationError(nil))

	err := WrapValidationError(validation.Errors{"created_by": validation.ErrRequired})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "created_by")
}
