package usecase

import (
	"context"
	"log/slog"
	"time"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	apperrors "github.com/allisson/batchdonations/internal/errors"
)

// QueueWorkerConfig holds queue worker configuration
type QueueWorkerConfig struct {
	Interval time.Duration
	PollSize int
}

// QueueWorker polls queued batches and processes them one after another.
type QueueWorker struct {
	config  QueueWorkerConfig
	repo    BatchRepository
	useCase BatchUseCase
	logger  *slog.Logger
}

// NewQueueWorker creates a new QueueWorker
func NewQueueWorker(
	config QueueWorkerConfig,
	repo BatchRepository,
	useCase BatchUseCase,
	logger *slog.Logger,
) *QueueWorker {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.PollSize <= 0 {
		config.PollSize = 5
	}
	return &QueueWorker{
		config:  config,
		repo:    repo,
		useCase: useCase,
		logger:  logger,
	}
}

// Start runs the polling loop until ctx is done.
func (w *QueueWorker) Start(ctx context.Context) error {
	w.logger.Info("starting batch queue worker",
		slog.Duration("interval", w.config.Interval),
		slog.Int("poll_size", w.config.PollSize),
	)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping batch queue worker")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessQueued(ctx); err != nil {
				w.logger.Error("failed to process queued batches", slog.Any("error", err))
			}
		}
	}
}

// ProcessQueued processes up to PollSize queued batches, highest priority
// first. Batches claimed by another process are skipped. It returns how many
// batches were processed by this call.
func (w *QueueWorker) ProcessQueued(ctx context.Context) (int, error) {
	ops, err := w.repo.ListQueuedOperations(ctx, w.config.PollSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, op := range ops {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		result, err := w.useCase.StartProcessing(ctx, op.ID)
		if err != nil {
			if apperrors.Is(err, batchDomain.ErrBatchAlreadyProcessing) ||
				apperrors.Is(err, batchDomain.ErrInvalidTransition) {
				w.logger.Debug("queued batch claimed elsewhere",
					slog.String("batch_id", op.ID.String()),
				)
				continue
			}
			w.logger.Error("failed to process batch",
				slog.String("batch_id", op.ID.String()),
				slog.Any("error", err),
			)
			continue
		}

		processed++
		w.logger.Info("queued batch processed",
			slog.String("batch_id", op.ID.String()),
			slog.String("status", string(result.Status)),
			slog.Int("attempted_items", result.Attempted),
		)
	}

	return processed, nil
}
