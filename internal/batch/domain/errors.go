package domain

import (
	"github.com/allisson/batchdonations/internal/errors"
)

// Batch-specific error definitions.
var (
	// ErrBatchNotFound indicates the batch operation does not exist.
	ErrBatchNotFound = errors.Wrap(errors.ErrNotFound, "batch not found")

	// ErrItemNotFound indicates the donation item does not exist.
	ErrItemNotFound = errors.Wrap(errors.ErrNotFound, "batch item not found")

	// ErrBatchAlreadyProcessing indicates another run is active for the batch.
	ErrBatchAlreadyProcessing = errors.Wrap(errors.ErrConflict, "batch is already processing")

	// ErrInvalidTransition indicates a state transition not allowed by the lifecycle.
	ErrInvalidTransition = errors.Wrap(errors.ErrConflict, "invalid status transition")

	// ErrStatusConflict indicates the stored status changed since the operation was loaded.
	ErrStatusConflict = errors.Wrap(errors.ErrConflict, "batch status changed concurrently")

	// ErrRetryPassesExhausted indicates the batch used up its retry passes.
	ErrRetryPassesExhausted = errors.Wrap(errors.ErrConflict, "batch retry passes exhausted")

	// ErrUnsupportedOperationType indicates an operation type the engine cannot execute.
	ErrUnsupportedOperationType = errors.Wrap(errors.ErrInvalidInput, "unsupported operation type")

	// ErrEmptyBatch indicates a batch without items.
	ErrEmptyBatch = errors.Wrap(errors.ErrInvalidInput, "batch must contain at least one item")

	// ErrTooManyItems indicates a batch above MaxItemsPerBatch.
	ErrTooManyItems = errors.Wrap(errors.ErrInvalidInput, "batch exceeds maximum number of items")

	// ErrInvalidItems indicates that one or more items failed validation.
	ErrInvalidItems = errors.Wrap(errors.ErrInvalidInput, "batch items failed validation")

	// ErrProgressInvariant indicates counters that break processed = successful + failed + skipped <= total.
	ErrProgressInvariant = errors.New("batch progress invariant violated")
)
