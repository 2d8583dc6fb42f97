// Package usecase implements the batch processing engine: creation, the worker
// pool orchestrator, progress tracking, retries, cancellation and retention.
package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

// BatchRepository is the persistence gateway for batch operations and their items.
// Every method is atomic for a single record; cross-record atomicity comes from
// database.TxManager.
type BatchRepository interface {
	// SaveOperation inserts the operation or overwrites every stored column.
	SaveOperation(ctx context.Context, op *batchDomain.BatchOperation) error

	// LoadOperation returns batchDomain.ErrBatchNotFound when the id is unknown.
	LoadOperation(ctx context.Context, id uuid.UUID) (*batchDomain.BatchOperation, error)

	// TransitionOperation persists the lifecycle fields of op (status, worker,
	// timestamps, retry passes, summary) only if the stored status is one of
	// from. It returns batchDomain.ErrStatusConflict otherwise.
	TransitionOperation(
		ctx context.Context,
		op *batchDomain.BatchOperation,
		from ...batchDomain.OperationStatus,
	) error

	// UpdateOperationProgress writes the aggregate counters.
	UpdateOperationProgress(
		ctx context.Context,
		id uuid.UUID,
		counters batchDomain.Counters,
		at time.Time,
	) error

	// AppendErrorLog appends entries to the stored ring buffer and updates the
	// error count and last error.
	AppendErrorLog(ctx context.Context, id uuid.UUID, entries []batchDomain.ErrorEntry) error

	// SaveItems inserts or overwrites items in bulk.
	SaveItems(ctx context.Context, items []*batchDomain.DonationItem) error

	// UpdateItem persists the mutable fields of one item.
	UpdateItem(ctx context.Context, item *batchDomain.DonationItem) error

	// LoadItemsByBatch returns the items of a batch ordered by processing order.
	LoadItemsByBatch(ctx context.Context, batchID uuid.UUID) ([]*batchDomain.DonationItem, error)

	// CountItemsByStatus returns item counts keyed by status.
	CountItemsByStatus(ctx context.Context, batchID uuid.UUID) (map[batchDomain.ItemStatus]int, error)

	// ListOperations returns operations ordered by creation time, newest first.
	ListOperations(ctx context.Context, offset, limit int) ([]*batchDomain.BatchOperation, error)

	// ListQueuedOperations returns queued operations by priority then age.
	ListQueuedOperations(ctx context.Context, limit int) ([]*batchDomain.BatchOperation, error)

	// DeleteSettledBefore removes settled operations (and their items) that
	// completed before cutoff. With dryRun it only counts them.
	DeleteSettledBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error)
}

// DonationExecutor performs one donation against the external processor.
// Failures should be *batchDomain.ExecutionError so the engine knows whether
// the item may be retried; other errors go through the ErrorClassifier.
type DonationExecutor interface {
	Execute(ctx context.Context, req batchDomain.DonationRequest) (batchDomain.DonationReceipt, error)
}

// FraudCheck is the optional gate evaluated before each donation.
type FraudCheck interface {
	Evaluate(ctx context.Context, req batchDomain.DonationRequest) (batchDomain.FraudAssessment, error)
}

// RunLocker guarantees at most one active processing run per batch.
type RunLocker interface {
	// Acquire returns batchDomain.ErrBatchAlreadyProcessing when the batch is
	// locked. The returned release function must be called once the run ends.
	Acquire(ctx context.Context, batchID uuid.UUID) (release func(ctx context.Context) error, err error)
}

// ErrorClassifier turns an untyped executor error into a typed one.
type ErrorClassifier func(err error) *batchDomain.ExecutionError

// BatchUseCase is the admin surface of the engine.
type BatchUseCase interface {
	// CreateBatch validates every item and persists the batch and its items
	// together. No batch is created when any item is invalid.
	CreateBatch(ctx context.Context, input batchDomain.CreateBatchInput) (*batchDomain.BatchOperation, error)

	// StartProcessing runs a queued batch to completion.
	StartProcessing(ctx context.Context, batchID uuid.UUID) (*batchDomain.ProcessingResult, error)

	// GetStatus returns the last persisted progress, item counts and recent errors.
	GetStatus(ctx context.Context, batchID uuid.UUID) (*batchDomain.StatusSnapshot, error)

	// RetryFailed re-runs the retry-eligible items of a partial or failed batch.
	RetryFailed(ctx context.Context, batchID uuid.UUID) (*batchDomain.ProcessingResult, error)

	// Cancel stops a batch that is not final. In-flight items finish normally.
	Cancel(ctx context.Context, batchID uuid.UUID, reason string) error

	// ListBatches returns operations with offset pagination.
	ListBatches(ctx context.Context, offset, limit int) ([]*batchDomain.BatchOperation, error)

	// ListItems returns the items of a batch ordered by processing order.
	ListItems(ctx context.Context, batchID uuid.UUID) ([]*batchDomain.DonationItem, error)

	// CleanupExpired deletes settled batches older than the given number of days.
	CleanupExpired(ctx context.Context, olderThanDays int, dryRun bool) (int64, error)
}
