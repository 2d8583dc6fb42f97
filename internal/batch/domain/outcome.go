package domain

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeKind classifies the result of one item attempt.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeRetryable OutcomeKind = "retryable"
	OutcomeTerminal  OutcomeKind = "terminal"
	OutcomeSkipped   OutcomeKind = "skipped"
)

// ExecutionError is the typed error returned by collaborators to say whether a
// failed item may be attempted again.
type ExecutionError struct {
	Kind    OutcomeKind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewRetryableError builds a transient failure.
func NewRetryableError(code, message string, cause error) *ExecutionError {
	return &ExecutionError{Kind: OutcomeRetryable, Code: code, Message: message, Err: cause}
}

// NewTerminalError builds a business rejection that is never retried.
func NewTerminalError(code, message string, details map[string]any) *ExecutionError {
	return &ExecutionError{Kind: OutcomeTerminal, Code: code, Message: message, Details: details}
}

// DonationRequest is what the donation processor receives for one item.
type DonationRequest struct {
	ItemID      uuid.UUID      `json:"item_id"`
	BatchID     uuid.UUID      `json:"batch_id"`
	UserID      string         `json:"user_id"`
	OnlusID     string         `json:"onlus_id"`
	Amount      float64        `json:"amount"`
	Message     *string        `json:"message,omitempty"`
	IsAnonymous bool           `json:"is_anonymous"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DonationReceipt is the result of a successful donation.
type DonationReceipt struct {
	TransactionID   string  `json:"transaction_id"`
	ProcessedAmount float64 `json:"processed_amount"`
	ProcessingFee   float64 `json:"processing_fee"`
}

// FraudAssessment is the verdict of the fraud gate for one item.
type FraudAssessment struct {
	Safe    bool
	Score   float64
	Details map[string]any
}

// ItemOutcome is what a worker reports to the aggregator after handling an item.
type ItemOutcome struct {
	ItemID   uuid.UUID
	Kind     OutcomeKind
	Code     string
	Message  string
	Duration time.Duration
	At       time.Time
}

// ErrorEntry converts a failed or skipped outcome into an error log entry.
func (o ItemOutcome) ErrorEntry() ErrorEntry {
	id := o.ItemID
	return ErrorEntry{
		Timestamp: o.At,
		ItemID:    &id,
		Code:      o.Code,
		Message:   o.Message,
	}
}

// ProcessingResult is returned by StartProcessing and RetryFailed.
type ProcessingResult struct {
	BatchID        uuid.UUID       `json:"batch_id"`
	Status         OperationStatus `json:"status"`
	Attempted      int             `json:"attempted_items"`
	Counters       Counters        `json:"counters"`
	Duration       time.Duration   `json:"duration"`
	ItemsPerSecond float64         `json:"items_per_second"`
	NothingToRetry bool            `json:"nothing_to_retry"`
	Message        string          `json:"message"`
	Errors         []ErrorEntry    `json:"errors"`
}

// StatusSnapshot is the read model returned by GetStatus.
type StatusSnapshot struct {
	Operation           *BatchOperation
	ItemCounts          map[ItemStatus]int
	RecentErrors        []ErrorEntry
	ProgressPercentage  float64
	EstimatedCompletion *time.Time
}
