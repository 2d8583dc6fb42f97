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

// RunProcessBatch runs a queued batch to completion in this process.
//
// Requirements: Database must be migrated and accessible.
func RunProcessBatch(
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

	logger.Info("processing batch", slog.String("batch_id", batchID.String()))

	result, err := useCase.StartProcessing(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to process batch: %w", err)
	}

	return outputProcessingResult(writer, result, format)
}

// RunRetryBatch re-runs the retry-eligible items of a partial or failed batch.
//
// Requirements: Database must be migrated and accessible.
func RunRetryBatch(
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

	logger.Info("retrying batch", slog.String("batch_id", batchID.String()))

	result, err := useCase.RetryFailed(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to retry batch: %w", err)
	}

	return outputProcessingResult(writer, result, format)
}

func outputProcessingResult(w io.Writer, result *batchDomain.ProcessingResult, format string) error {
	if format == "json" {
		return writeJSON(w, dto.MapProcessingResultToResponse(result))
	}

	if result.NothingToRetry {
		_, _ = fmt.Fprintf(w, "Nothing to retry for batch %s (status: %s)\n", result.BatchID, result.Status)
		return nil
	}

	_, _ = fmt.Fprintf(w, "Batch %s finished with status %s\n", result.BatchID, result.Status)
	_, _ = fmt.Fprintf(w, "Attempted: %d\n", result.Attempted)
	_, _ = fmt.Fprintf(w, "Processed: %d/%d (successful: %d, failed: %d, skipped: %d)\n",
		result.Counters.Processed,
		result.Counters.Total,
		result.Counters.Successful,
		result.Counters.Failed,
		result.Counters.Skipped,
	)
	_, _ = fmt.Fprintf(w, "Duration: %s (%.2f items/s)\n", result.Duration.Round(time.Millisecond), result.ItemsPerSecond)
	if result.Message != "" {
		_, _ = fmt.Fprintf(w, "Message: %s\n", result.Message)
	}
	for _, entry := range result.Errors {
		_, _ = fmt.Fprintf(w, "  [%s] %s\n", entry.Code, entry.Message)
	}
	return nil
}
