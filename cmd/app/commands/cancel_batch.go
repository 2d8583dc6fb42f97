package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	batchUseCase "github.com/allisson/batchdonations/internal/batch/usecase"
)

// RunCancelBatch cancels a batch that has not reached a final status.
// Items already in flight elsewhere finish normally.
func RunCancelBatch(
	ctx context.Context,
	useCase batchUseCase.BatchUseCase,
	logger *slog.Logger,
	writer io.Writer,
	id string,
	reason string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	batchID, err := parseBatchID(id)
	if err != nil {
		return err
	}

	if err := useCase.Cancel(ctx, batchID, reason); err != nil {
		return fmt.Errorf("failed to cancel batch: %w", err)
	}

	if format == "json" {
		if err := writeJSON(writer, map[string]any{
			"batch_id": batchID.String(),
			"status":   "cancelled",
			"reason":   reason,
		}); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(writer, "Batch %s cancelled\n", batchID)
	}

	logger.Info("batch cancelled",
		slog.String("batch_id", batchID.String()),
		slog.String("reason", reason),
	)
	return nil
}
