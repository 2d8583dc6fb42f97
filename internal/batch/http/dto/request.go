// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	validation "github.com/jellydator/validation"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	customValidation "github.com/allisson/batchdonations/internal/validation"
)

// DonationItemRequest is one donation of a create batch request.
// Field level checks run in the use case so every invalid item is reported by index.
type DonationItemRequest struct {
	UserID      string         `json:"user_id"`
	OnlusID     string         `json:"onlus_id"`
	Amount      float64        `json:"amount"`
	Message     *string        `json:"message,omitempty"`
	IsAnonymous bool           `json:"is_anonymous"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreateBatchRequest contains the parameters for creating a batch operation.
type CreateBatchRequest struct {
	CreatedBy     string                `json:"created_by"`
	OperationType string                `json:"operation_type"`
	MaxRetries    *int                  `json:"max_retries"`
	Priority      int                   `json:"priority"`
	BatchSize     int                   `json:"batch_size"`
	Configuration map[string]any        `json:"configuration"`
	Items         []DonationItemRequest `json:"items"`
}

// Validate checks if the create batch request is valid.
func (r *CreateBatchRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CreatedBy,
			validation.Required,
			customValidation.NotBlank,
			customValidation.NoWhitespace,
			validation.Length(1, 255),
		),
		validation.Field(&r.OperationType, validation.In(
			string(batchDomain.OperationTypeDonations),
			string(batchDomain.OperationTypePayouts),
			string(batchDomain.OperationTypeReconciliation),
			string(batchDomain.OperationTypeRefunds),
			string(batchDomain.OperationTypeComplianceCheck),
		)),
		validation.Field(&r.Items, validation.Required),
	)
}

// ToInput converts the request into the use case input.
func (r *CreateBatchRequest) ToInput() batchDomain.CreateBatchInput {
	items := make([]batchDomain.DonationInput, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, batchDomain.DonationInput{
			UserID:      item.UserID,
			OnlusID:     item.OnlusID,
			Amount:      item.Amount,
			Message:     item.Message,
			IsAnonymous: item.IsAnonymous,
			Metadata:    item.Metadata,
		})
	}

	return batchDomain.CreateBatchInput{
		CreatedBy:     r.CreatedBy,
		OperationType: batchDomain.OperationType(r.OperationType),
		MaxRetries:    r.MaxRetries,
		Priority:      r.Priority,
		BatchSize:     r.BatchSize,
		Configuration: r.Configuration,
		Items:         items,
	}
}

// CancelBatchRequest contains the optional reason for cancelling a batch.
type CancelBatchRequest struct {
	Reason string `json:"reason"`
}

// Validate checks if the cancel batch request is valid.
func (r *CancelBatchRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Reason, validation.Length(0, 500)),
	)
}
