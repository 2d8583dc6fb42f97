package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	"github.com/allisson/batchdonations/internal/metrics"
)

// batchUseCaseWithMetrics decorates BatchUseCase with metrics instrumentation.
type batchUseCaseWithMetrics struct {
	next    BatchUseCase
	metrics metrics.BusinessMetrics
}

// NewBatchUseCaseWithMetrics wraps a BatchUseCase with metrics recording.
func NewBatchUseCaseWithMetrics(useCase BatchUseCase, m metrics.BusinessMetrics) BatchUseCase {
	return &batchUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

func (b *batchUseCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	b.metrics.RecordOperation(ctx, metricsDomain, operation, status)
	b.metrics.RecordDuration(ctx, metricsDomain, operation, time.Since(start), status)
}

// CreateBatch records metrics for batch creation.
func (b *batchUseCaseWithMetrics) CreateBatch(
	ctx context.Context,
	input batchDomain.CreateBatchInput,
) (*batchDomain.BatchOperation, error) {
	start := time.Now()
	op, err := b.next.CreateBatch(ctx, input)
	b.record(ctx, "batch_create", start, err)
	return op, err
}

// StartProcessing records metrics for processing runs.
func (b *batchUseCaseWithMetrics) StartProcessing(
	ctx context.Context,
	batchID uuid.UUID,
) (*batchDomain.ProcessingResult, error) {
	start := time.Now()
	result, err := b.next.StartProcessing(ctx, batchID)
	b.record(ctx, "batch_process", start, err)
	return result, err
}

// GetStatus records metrics for status reads.
func (b *batchUseCaseWithMetrics) GetStatus(
	ctx context.Context,
	batchID uuid.UUID,
) (*batchDomain.StatusSnapshot, error) {
	start := time.Now()
	snapshot, err := b.next.GetStatus(ctx, batchID)
	b.record(ctx, "batch_status", start, err)
	return snapshot, err
}

// RetryFailed records metrics for retry passes.
func (b *batchUseCaseWithMetrics) RetryFailed(
	ctx context.Context,
	batchID uuid.UUID,
) (*batchDomain.ProcessingResult, error) {
	start := time.Now()
	result, err := b.next.RetryFailed(ctx, batchID)
	b.record(ctx, "batch_retry", start, err)
	return result, err
}

// Cancel records metrics for cancellations.
func (b *batchUseCaseWithMetrics) Cancel(ctx context.Context, batchID uuid.UUID, reason string) error {
	start := time.Now()
	err := b.next.Cancel(ctx, batchID, reason)
	b.record(ctx, "batch_cancel", start, err)
	return err
}

// ListBatches records metrics for batch listing.
func (b *batchUseCaseWithMetrics) ListBatches(
	ctx context.Context,
	offset, limit int,
) ([]*batchDomain.BatchOperation, error) {
	start := time.Now()
	ops, err := b.next.ListBatches(ctx, offset, limit)
	b.record(ctx, "batch_list", start, err)
	return ops, err
}

// ListItems records metrics for item listing.
func (b *batchUseCaseWithMetrics) ListItems(
	ctx context.Context,
	batchID uuid.UUID,
) ([]*batchDomain.DonationItem, error) {
	start := time.Now()
	items, err := b.next.ListItems(ctx, batchID)
	b.record(ctx, "batch_items_list", start, err)
	return items, err
}

// CleanupExpired records metrics for retention cleanup.
func (b *batchUseCaseWithMetrics) CleanupExpired(ctx context.Context, olderThanDays int, dryRun bool) (int64, error) {
	start := time.Now()
	count, err := b.next.CleanupExpired(ctx, olderThanDays, dryRun)
	b.record(ctx, "batch_cleanup", start, err)
	return count, err
}
