package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// DonationItem is one donation request inside a batch operation.
type DonationItem struct {
	ID              uuid.UUID
	BatchID         uuid.UUID
	ProcessingOrder int

	UserID      string
	OnlusID     string
	Amount      float64
	Message     *string
	IsAnonymous bool
	Metadata    map[string]any

	Status ItemStatus

	RetryCount  int
	MaxRetries  int
	LastRetryAt *time.Time
	// Retryable is cleared once a terminal failure is recorded.
	Retryable bool

	TransactionID   *string
	ProcessedAmount *float64
	ProcessingFee   *float64

	ErrorMessage *string
	ErrorCode    *string
	ErrorDetails map[string]any

	ValidationErrors    []string
	PreValidationPassed bool

	CreatedAt           time.Time
	UpdatedAt           time.Time
	StartedProcessingAt *time.Time
	CompletedAt         *time.Time
}

// NewDonationItem creates a pending item for batchID from a validated input.
func NewDonationItem(batchID uuid.UUID, order int, in DonationInput, maxRetries int, now time.Time) *DonationItem {
	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &DonationItem{
		ID:                  uuid.Must(uuid.NewV7()),
		BatchID:             batchID,
		ProcessingOrder:     order,
		UserID:              in.UserID,
		OnlusID:             in.OnlusID,
		Amount:              in.Amount,
		Message:             in.Message,
		IsAnonymous:         in.IsAnonymous,
		Metadata:            metadata,
		Status:              ItemStatusPending,
		MaxRetries:          maxRetries,
		Retryable:           true,
		PreValidationPassed: true,
		ValidationErrors:    []string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// AddValidationError records a pre-validation failure. Duplicate messages are ignored.
func (d *DonationItem) AddValidationError(message string) {
	d.PreValidationPassed = false
	if slices.Contains(d.ValidationErrors, message) {
		return
	}
	d.ValidationErrors = append(d.ValidationErrors, message)
}

// Request builds the executor request for this item.
func (d *DonationItem) Request() DonationRequest {
	return DonationRequest{
		ItemID:      d.ID,
		BatchID:     d.BatchID,
		UserID:      d.UserID,
		OnlusID:     d.OnlusID,
		Amount:      d.Amount,
		Message:     d.Message,
		IsAnonymous: d.IsAnonymous,
		Metadata:    d.Metadata,
	}
}

// IsDispatchable reports whether the item is waiting for a processing attempt.
func (d *DonationItem) IsDispatchable() bool {
	return d.Status == ItemStatusPending || d.Status == ItemStatusRetrying
}

// IsProcessed reports whether the item counts as processed for the batch counters.
func (d *DonationItem) IsProcessed() bool {
	switch d.Status {
	case ItemStatusCompleted, ItemStatusFailed, ItemStatusSkipped:
		return true
	}
	return false
}

// CanBeRetried reports whether the item is eligible for another attempt.
func (d *DonationItem) CanBeRetried() bool {
	return (d.Status == ItemStatusFailed || d.Status == ItemStatusRetrying) &&
		d.Retryable &&
		d.RetryCount < d.MaxRetries
}

// MarkSkipped moves a pending item that failed pre-validation to skipped.
func (d *DonationItem) MarkSkipped(now time.Time) error {
	if d.Status != ItemStatusPending {
		return fmt.Errorf("%w: cannot skip item in status %s", ErrInvalidTransition, d.Status)
	}
	if d.PreValidationPassed {
		return fmt.Errorf("%w: item passed pre-validation", ErrInvalidTransition)
	}
	code := ErrorCodePreValidation
	d.Status = ItemStatusSkipped
	d.Retryable = false
	d.ErrorCode = &code
	msg := "pre-validation failed"
	if len(d.ValidationErrors) > 0 {
		msg = msg + ": " + d.ValidationErrors[0]
	}
	d.ErrorMessage = &msg
	d.CompletedAt = &now
	d.UpdatedAt = now
	return nil
}

// StartProcessing moves a pending or retrying item to processing.
func (d *DonationItem) StartProcessing(now time.Time) error {
	if !d.IsDispatchable() {
		return fmt.Errorf("%w: cannot process item in status %s", ErrInvalidTransition, d.Status)
	}
	d.Status = ItemStatusProcessing
	d.StartedProcessingAt = &now
	d.CompletedAt = nil
	d.UpdatedAt = now
	return nil
}

// MarkCompleted records a successful execution.
func (d *DonationItem) MarkCompleted(receipt DonationReceipt, now time.Time) error {
	if d.Status != ItemStatusProcessing {
		return fmt.Errorf("%w: cannot complete item in status %s", ErrInvalidTransition, d.Status)
	}
	txID := receipt.TransactionID
	amount := receipt.ProcessedAmount
	fee := receipt.ProcessingFee
	d.Status = ItemStatusCompleted
	d.TransactionID = &txID
	d.ProcessedAmount = &amount
	d.ProcessingFee = &fee
	d.ErrorMessage = nil
	d.ErrorCode = nil
	d.ErrorDetails = nil
	d.CompletedAt = &now
	d.UpdatedAt = now
	return nil
}

// MarkFailed records a failed execution. A retryable failure consumes one unit
// of the retry budget; once the budget is spent the item stops being retryable.
// A terminal failure is never retried.
func (d *DonationItem) MarkFailed(execErr *ExecutionError, now time.Time) error {
	if d.Status != ItemStatusProcessing {
		return fmt.Errorf("%w: cannot fail item in status %s", ErrInvalidTransition, d.Status)
	}
	code := execErr.Code
	msg := execErr.Message
	d.Status = ItemStatusFailed
	d.ErrorCode = &code
	d.ErrorMessage = &msg
	d.ErrorDetails = execErr.Details
	if execErr.Kind == OutcomeRetryable {
		d.RetryCount++
		if d.RetryCount >= d.MaxRetries {
			d.Retryable = false
		}
	} else {
		d.Retryable = false
	}
	d.CompletedAt = &now
	d.UpdatedAt = now
	return nil
}

// PrepareRetry moves a retry-eligible failed item to retrying.
func (d *DonationItem) PrepareRetry(now time.Time) error {
	if !d.CanBeRetried() {
		return fmt.Errorf("%w: item %s is not retry eligible", ErrInvalidTransition, d.ID)
	}
	d.Status = ItemStatusRetrying
	d.LastRetryAt = &now
	d.UpdatedAt = now
	return nil
}
