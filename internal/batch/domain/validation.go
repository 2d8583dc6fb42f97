package domain

import (
	"fmt"
	"sort"
	"strings"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/batchdonations/internal/errors"
	customValidation "github.com/allisson/batchdonations/internal/validation"
)

// DonationInput is one requested donation before it becomes a DonationItem.
type DonationInput struct {
	UserID      string         `json:"user_id"`
	OnlusID     string         `json:"onlus_id"`
	Amount      float64        `json:"amount"`
	Message     *string        `json:"message,omitempty"`
	IsAnonymous bool           `json:"is_anonymous"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreateBatchInput contains the parameters for creating a batch operation.
type CreateBatchInput struct {
	CreatedBy     string          `json:"created_by"`
	OperationType OperationType   `json:"operation_type"`
	MaxRetries    *int            `json:"max_retries"` // nil falls back to the engine default
	Priority      int             `json:"priority"`
	BatchSize     int             `json:"batch_size"`
	Configuration map[string]any  `json:"configuration"`
	Items         []DonationInput `json:"items"`
}

// Validate checks the batch level parameters. Items are checked by ValidateInputs.
func (in CreateBatchInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.CreatedBy, validation.Required, validation.Length(1, 255), customValidation.NoWhitespace),
		validation.Field(&in.MaxRetries, validation.Min(0), validation.Max(20)),
		validation.Field(&in.Priority, validation.Min(0), validation.Max(100)),
		validation.Field(&in.BatchSize, validation.Min(0), validation.Max(MaxItemsPerBatch)),
	)
}

// Limits bound what a single batch may contain.
type Limits struct {
	MaxItems      int
	MaxItemAmount float64
}

// DefaultLimits returns the engine hard limits.
func DefaultLimits() Limits {
	return Limits{MaxItems: MaxItemsPerBatch, MaxItemAmount: MaxItemAmount}
}

// Validate checks the required fields and amount bounds of one input.
func (in DonationInput) Validate(maxAmount float64) error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.UserID, validation.Required, validation.Length(1, 255), customValidation.Identifier),
		validation.Field(&in.OnlusID, validation.Required, validation.Length(1, 255), customValidation.Identifier),
		validation.Field(&in.Amount,
			validation.Required,
			validation.Min(0.0).Exclusive().Error("must be greater than 0"),
			validation.Max(maxAmount).Error(fmt.Sprintf("must be no greater than %.2f", maxAmount)),
			customValidation.MoneyPrecision{},
		),
	)
}

// ItemValidationError lists the problems found on one input, by position.
type ItemValidationError struct {
	Index  int      `json:"index"`
	Errors []string `json:"errors"`
}

// ValidationError reports every invalid input of a rejected batch.
type ValidationError struct {
	Items []ItemValidationError `json:"items"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		parts = append(parts, fmt.Sprintf("item %d: %s", item.Index, strings.Join(item.Errors, "; ")))
	}
	return ErrInvalidItems.Error() + ": " + strings.Join(parts, ", ")
}

// ErrorDetails returns the per-item problems for API responses.
func (e *ValidationError) ErrorDetails() any {
	return e.Items
}

// Unwrap makes the error match ErrInvalidItems and the invalid input sentinel.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidItems
}

// ValidateInputs checks a whole batch. Any invalid input rejects the batch.
func ValidateInputs(inputs []DonationInput, limits Limits) error {
	if len(inputs) == 0 {
		return ErrEmptyBatch
	}
	if len(inputs) > limits.MaxItems {
		return fmt.Errorf("%w: %d items, maximum is %d", ErrTooManyItems, len(inputs), limits.MaxItems)
	}

	var invalid []ItemValidationError
	for i, in := range inputs {
		if err := in.Validate(limits.MaxItemAmount); err != nil {
			invalid = append(invalid, ItemValidationError{Index: i, Errors: flattenValidation(err)})
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{Items: invalid}
	}
	return nil
}

func flattenValidation(err error) []string {
	var fieldErrs validation.Errors
	if !apperrors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	fields := make([]string, 0, len(fieldErrs))
	for field := range fieldErrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	out := make([]string, 0, len(fields))
	for _, field := range fields {
		out = append(out, field+": "+fieldErrs[field].Error())
	}
	return out
}
