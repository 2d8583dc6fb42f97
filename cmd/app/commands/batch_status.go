package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
	"github.com/allisson/batchdonations/internal/batch/http/dto"
	batchUseCase "github.com/allisson/batchdonations/internal/batch/usecase"
)

// RunBatchStatus prints the last persisted progress of a batch.
func RunBatchStatus(
	ctx context.Context,
	useCase batchUseCase.BatchUseCase,
	logger *slog.Logger,
	writer io.Writer,
	id string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}
	batchID, err := parseBatchID(id)
	if err != nil {
		return err
	}

	logger.Debug("reading batch status", slog.String("batch_id", batchID.String()))

	snapshot, err := useCase.GetStatus(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to get batch status: %w", err)
	}

	if format == "json" {
		return writeJSON(writer, dto.MapStatusToResponse(snapshot))
	}

	op := snapshot.Operation
	_, _ = fmt.Fprintf(writer, "Batch: %s\n", op.ID)
	_, _ = fmt.Fprintf(writer, "Status: %s\n", op.Status)
	_, _ = fmt.Fprintf(writer, "Progress: %.2f%% (%d/%d)\n", snapshot.ProgressPercentage, op.ProcessedItems, op.TotalItems)
	_, _ = fmt.Fprintf(writer, "Successful: %d  Failed: %d  Skipped: %d\n", op.SuccessfulItems, op.FailedItems, op.SkippedItems)
	if snapshot.EstimatedCompletion != nil {
		_, _ = fmt.Fprintf(writer, "Estimated completion: %s\n", snapshot.EstimatedCompletion.Format(time.RFC3339))
	}
	_, _ = fmt.Fprintln(writer, "Items:")
	for _, status := range batchDomain.AllItemStatuses {
		_, _ = fmt.Fprintf(writer, "  %-10s %d\n", status, snapshot.ItemCounts[status])
	}
	if len(snapshot.RecentErrors) > 0 {
		_, _ = fmt.Fprintln(writer, "Recent errors:")
		for _, entry := range snapshot.RecentErrors {
			_, _ = fmt.Fprintf(writer, "  %s [%s] %s\n", entry.Timestamp.Format(time.RFC3339), entry.Code, entry.Message)
		}
	}
	return nil
}
