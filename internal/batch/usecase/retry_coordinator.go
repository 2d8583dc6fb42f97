package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	"github.com/allisson/batchdonations/internal/database"
	apperrors "github.com/allisson/batchdonations/internal/errors"
)

// RetryCoordinator re-runs the retry-eligible items of a partial or failed batch
// through the same worker pool as the first run.
type RetryCoordinator struct {
	orchestrator *Orchestrator
	txManager    database.TxManager
	repo         BatchRepository
	logger       *slog.Logger
}

// NewRetryCoordinator creates a RetryCoordinator.
func NewRetryCoordinator(
	orchestrator *Orchestrator,
	txManager database.TxManager,
	repo BatchRepository,
	logger *slog.Logger,
) *RetryCoordinator {
	return &RetryCoordinator{
		orchestrator: orchestrator,
		txManager:    txManager,
		repo:         repo,
		logger:       logger,
	}
}

// RetryFailed starts a retry pass. When no item is eligible the batch is left
// untouched and the result reports NothingToRetry.
func (r *RetryCoordinator) RetryFailed(ctx context.Context, batchID uuid.UUID) (*batchDomain.ProcessingResult, error) {
	release, err := r.orchestrator.locker.Acquire(ctx, batchID)
	if err != nil {
		return nil, err
	}
	defer r.orchestrator.releaseLock(ctx, batchID, release)

	op, err := r.repo.LoadOperation(ctx, batchID)
	if err != nil {
		return nil, err
	}
	switch op.Status {
	case batchDomain.OperationStatusPartial, batchDomain.OperationStatusFailed:
	case batchDomain.OperationStatusProcessing:
		return nil, batchDomain.ErrBatchAlreadyProcessing
	default:
		return nil, fmt.Errorf("%w: cannot retry batch in status %s", batchDomain.ErrInvalidTransition, op.Status)
	}

	items, err := r.repo.LoadItemsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	candidates := retryCandidates(items)
	if len(candidates) == 0 {
		return &batchDomain.ProcessingResult{
			BatchID:        op.ID,
			Status:         op.Status,
			Counters:       op.Counters(),
			NothingToRetry: true,
			Message:        "nothing to retry",
			Errors:         []batchDomain.ErrorEntry{},
		}, nil
	}

	now := r.orchestrator.now()
	if err := op.BeginRetry(r.orchestrator.config.WorkerID, now); err != nil {
		return nil, err
	}
	for _, item := range candidates {
		if err := item.PrepareRetry(now); err != nil {
			return nil, err
		}
	}

	err = r.txManager.WithTx(ctx, func(ctx context.Context) error {
		if err := r.repo.SaveItems(ctx, candidates); err != nil {
			return err
		}
		return r.repo.TransitionOperation(
			ctx,
			op,
			batchDomain.OperationStatusPartial,
			batchDomain.OperationStatusFailed,
		)
	})
	if err != nil {
		if apperrors.Is(err, batchDomain.ErrStatusConflict) {
			return nil, batchDomain.ErrBatchAlreadyProcessing
		}
		return nil, apperrors.Wrap(err, "failed to start retry pass")
	}

	r.logger.Info("batch retry pass started",
		slog.String("batch_id", batchID.String()),
		slog.Int("retry_pass", op.RetryPasses),
		slog.Int("retry_items", len(candidates)),
	)

	return r.orchestrator.run(ctx, op, items)
}

// retryCandidates returns the items that may be attempted again.
func retryCandidates(items []*batchDomain.DonationItem) []*batchDomain.DonationItem {
	var candidates []*batchDomain.DonationItem
	for _, item := range items {
		if item.CanBeRetried() {
			candidates = append(candidates, item)
		}
	}
	return candidates
}
