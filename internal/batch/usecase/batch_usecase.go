package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	"github.com/allisson/batchdonations/internal/database"
	apperrors "github.com/allisson/batchdonations/internal/errors"
)

// Config holds the creation rules of the batch use case.
type Config struct {
	Limits            batchDomain.Limits
	DefaultMaxRetries int
	// SkipDuplicates marks repeated donations inside one batch as failing
	// pre-validation so they end skipped instead of being charged twice.
	SkipDuplicates bool
}

// batchUseCase implements the BatchUseCase interface.
type batchUseCase struct {
	config       Config
	txManager    database.TxManager
	repo         BatchRepository
	orchestrator *Orchestrator
	retry        *RetryCoordinator
	logger       *slog.Logger
	now          func() time.Time
}

// CreateBatch validates the input and persists the operation with its items in
// one transaction.
func (b *batchUseCase) CreateBatch(
	ctx context.Context,
	input batchDomain.CreateBatchInput,
) (*batchDomain.BatchOperation, error) {
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, err.Error())
	}

	if input.OperationType == "" {
		input.OperationType = batchDomain.OperationTypeDonations
	}
	if input.OperationType != batchDomain.OperationTypeDonations {
		return nil, fmt.Errorf("%w: %s", batchDomain.ErrUnsupportedOperationType, input.OperationType)
	}

	if err := batchDomain.ValidateInputs(input.Items, b.config.Limits); err != nil {
		return nil, err
	}

	maxRetries := b.config.DefaultMaxRetries
	if input.MaxRetries != nil {
		maxRetries = *input.MaxRetries
	}

	now := b.now()
	op := batchDomain.NewBatchOperation(
		input.CreatedBy,
		len(input.Items),
		input.BatchSize,
		maxRetries,
		input.Priority,
		now,
	)
	op.OperationType = input.OperationType
	if input.Configuration != nil {
		op.Configuration = input.Configuration
	}

	items := make([]*batchDomain.DonationItem, 0, len(input.Items))
	seen := make(map[string]int, len(input.Items))
	for i, in := range input.Items {
		item := batchDomain.NewDonationItem(op.ID, i, in, op.MaxRetries, now)
		if b.config.SkipDuplicates {
			key := duplicateKey(in)
			if first, ok := seen[key]; ok {
				item.AddValidationError(fmt.Sprintf("duplicate of item %d", first))
			} else {
				seen[key] = i
			}
		}
		items = append(items, item)
	}

	err := b.txManager.WithTx(ctx, func(txCtx context.Context) error {
		if err := b.repo.SaveOperation(txCtx, op); err != nil {
			return err
		}
		return b.repo.SaveItems(txCtx, items)
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create batch")
	}

	b.logger.Info("batch created",
		slog.String("batch_id", op.ID.String()),
		slog.String("created_by", op.CreatedBy),
		slog.Int("total_items", op.TotalItems),
		slog.Int("max_retries", op.MaxRetries),
	)

	return op, nil
}

func duplicateKey(in batchDomain.DonationInput) string {
	message := ""
	if in.Message != nil {
		message = *in.Message
	}
	return fmt.Sprintf("%s\x00%s\x00%.2f\x00%s", in.UserID, in.OnlusID, in.Amount, message)
}

// StartProcessing runs a queued batch through the orchestrator.
func (b *batchUseCase) StartProcessing(
	ctx context.Context,
	batchID uuid.UUID,
) (*batchDomain.ProcessingResult, error) {
	return b.orchestrator.Process(ctx, batchID)
}

// GetStatus builds the status snapshot from the last persisted checkpoint.
func (b *batchUseCase) GetStatus(ctx context.Context, batchID uuid.UUID) (*batchDomain.StatusSnapshot, error) {
	op, err := b.repo.LoadOperation(ctx, batchID)
	if err != nil {
		return nil, err
	}

	stored, err := b.repo.CountItemsByStatus(ctx, batchID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to count batch items")
	}
	counts := make(map[batchDomain.ItemStatus]int, len(batchDomain.AllItemStatuses))
	for _, status := range batchDomain.AllItemStatuses {
		counts[status] = stored[status]
	}

	recent := []batchDomain.ErrorEntry{}
	if op.ErrorLog != nil {
		recent = op.ErrorLog.Last(batchDomain.StatusErrorTail)
	}

	snapshot := &batchDomain.StatusSnapshot{
		Operation:          op,
		ItemCounts:         counts,
		RecentErrors:       recent,
		ProgressPercentage: op.ProgressPercentage(),
	}
	if op.Status == batchDomain.OperationStatusProcessing {
		snapshot.EstimatedCompletion = op.EstimatedCompletion(b.now())
	}
	return snapshot, nil
}

// RetryFailed delegates to the retry coordinator.
func (b *batchUseCase) RetryFailed(
	ctx context.Context,
	batchID uuid.UUID,
) (*batchDomain.ProcessingResult, error) {
	return b.retry.RetryFailed(ctx, batchID)
}

// Cancel marks the batch cancelled. A run in progress observes it at its next
// checkpoint.
func (b *batchUseCase) Cancel(ctx context.Context, batchID uuid.UUID, reason string) error {
	op, err := b.repo.LoadOperation(ctx, batchID)
	if err != nil {
		return err
	}
	from := op.Status

	if err := op.Cancel(reason, b.now()); err != nil {
		return err
	}
	entries := op.ErrorLog.Last(1)

	err = b.txManager.WithTx(ctx, func(txCtx context.Context) error {
		if err := b.repo.TransitionOperation(
			txCtx,
			op,
			batchDomain.OperationStatusQueued,
			batchDomain.OperationStatusProcessing,
			batchDomain.OperationStatusPartial,
			batchDomain.OperationStatusFailed,
		); err != nil {
			return err
		}
		return b.repo.AppendErrorLog(txCtx, batchID, entries)
	})
	if err != nil {
		if apperrors.Is(err, batchDomain.ErrStatusConflict) {
			return fmt.Errorf("%w: batch settled while cancelling", batchDomain.ErrInvalidTransition)
		}
		return apperrors.Wrap(err, "failed to cancel batch")
	}

	b.logger.Info("batch cancelled",
		slog.String("batch_id", batchID.String()),
		slog.String("previous_status", string(from)),
		slog.String("reason", reason),
	)
	return nil
}

// ListBatches returns operations newest first.
func (b *batchUseCase) ListBatches(ctx context.Context, offset, limit int) ([]*batchDomain.BatchOperation, error) {
	return b.repo.ListOperations(ctx, offset, limit)
}

// ListItems returns the items of an existing batch.
func (b *batchUseCase) ListItems(ctx context.Context, batchID uuid.UUID) ([]*batchDomain.DonationItem, error) {
	if _, err := b.repo.LoadOperation(ctx, batchID); err != nil {
		return nil, err
	}
	return b.repo.LoadItemsByBatch(ctx, batchID)
}

// CleanupExpired removes settled batches whose completion is older than
// olderThanDays. With dryRun it only reports how many would be removed.
func (b *batchUseCase) CleanupExpired(ctx context.Context, olderThanDays int, dryRun bool) (int64, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("%w: days must be zero or positive", apperrors.ErrInvalidInput)
	}
	cutoff := b.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)

	var count int64
	err := b.txManager.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		count, err = b.repo.DeleteSettledBefore(txCtx, cutoff, dryRun)
		return err
	})
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to clean up expired batches")
	}
	return count, nil
}

// NewBatchUseCase creates a new batch use case instance with the provided dependencies.
func NewBatchUseCase(
	config Config,
	txManager database.TxManager,
	repo BatchRepository,
	orchestrator *Orchestrator,
	retry *RetryCoordinator,
	logger *slog.Logger,
) BatchUseCase {
	if config.Limits.MaxItems <= 0 || config.Limits.MaxItems > batchDomain.MaxItemsPerBatch {
		config.Limits.MaxItems = batchDomain.MaxItemsPerBatch
	}
	if config.Limits.MaxItemAmount <= 0 || config.Limits.MaxItemAmount > batchDomain.MaxItemAmount {
		config.Limits.MaxItemAmount = batchDomain.MaxItemAmount
	}
	if config.DefaultMaxRetries < 0 {
		config.DefaultMaxRetries = batchDomain.DefaultMaxRetries
	}
	return &batchUseCase{
		config:       config,
		txManager:    txManager,
		repo:         repo,
		orchestrator: orchestrator,
		retry:        retry,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}
