package domain

// OperationType classifies what a batch operation does.
type OperationType string

// Operation types. Only OperationTypeDonations is executable by the engine.
const (
	OperationTypeDonations       OperationType = "donations"
	OperationTypePayouts         OperationType = "payouts"
	OperationTypeReconciliation  OperationType = "reconciliation"
	OperationTypeRefunds         OperationType = "refunds"
	OperationTypeComplianceCheck OperationType = "compliance_check"
)

// IsValid reports whether t is a known operation type.
func (t OperationType) IsValid() bool {
	switch t {
	case OperationTypeDonations,
		OperationTypePayouts,
		OperationTypeReconciliation,
		OperationTypeRefunds,
		OperationTypeComplianceCheck:
		return true
	}
	return false
}

// OperationStatus represents the lifecycle state of a batch operation.
type OperationStatus string

const (
	OperationStatusQueued     OperationStatus = "queued"
	OperationStatusProcessing OperationStatus = "processing"
	OperationStatusCompleted  OperationStatus = "completed"
	OperationStatusPartial    OperationStatus = "partial"
	OperationStatusFailed     OperationStatus = "failed"
	OperationStatusCancelled  OperationStatus = "cancelled"
)

// IsFinal reports whether no further transition is possible from s.
func (s OperationStatus) IsFinal() bool {
	return s == OperationStatusCompleted || s == OperationStatusCancelled
}

// IsSettled reports whether processing has ended for s, either for good or
// until a retry pass is requested.
func (s OperationStatus) IsSettled() bool {
	switch s {
	case OperationStatusCompleted, OperationStatusPartial, OperationStatusFailed, OperationStatusCancelled:
		return true
	}
	return false
}

// ItemStatus represents the lifecycle state of a donation item.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusSkipped    ItemStatus = "skipped"
	ItemStatusRetrying   ItemStatus = "retrying"
)

// AllItemStatuses lists every item status in lifecycle order.
var AllItemStatuses = []ItemStatus{
	ItemStatusPending,
	ItemStatusProcessing,
	ItemStatusCompleted,
	ItemStatusFailed,
	ItemStatusSkipped,
	ItemStatusRetrying,
}

const (
	// MaxItemsPerBatch is the hard upper bound on items in a single batch.
	MaxItemsPerBatch = 500

	// MaxItemAmount is the largest amount accepted for a single donation item.
	MaxItemAmount = 10000.0

	// ErrorLogCapacity is the number of entries kept in a batch error log.
	ErrorLogCapacity = 1000

	// DefaultMaxRetries is used when a batch is created without a retry budget.
	DefaultMaxRetries = 3

	// DefaultBatchSize is the chunking hint used when none is provided.
	DefaultBatchSize = 50

	// StatusErrorTail is how many recent errors a status snapshot carries.
	StatusErrorTail = 10
)

// Error codes recorded on items and in the error log.
const (
	ErrorCodePreValidation        = "PRE_VALIDATION_FAILED"
	ErrorCodeFraudRejected        = "FRAUD_REJECTED"
	ErrorCodeFraudCheck           = "FRAUD_CHECK_ERROR"
	ErrorCodeTimeout              = "EXECUTION_TIMEOUT"
	ErrorCodeExecution            = "EXECUTION_ERROR"
	ErrorCodeDonationRejected     = "DONATION_REJECTED"
	ErrorCodeProcessorUnavailable = "PROCESSOR_UNAVAILABLE"
	ErrorCodeCancelled            = "BATCH_CANCELLED"
	ErrorCodeRetryExhausted       = "RETRY_BUDGET_EXHAUSTED"
)
