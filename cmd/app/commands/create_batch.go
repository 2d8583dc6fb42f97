package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/allisson/batchdonations/internal/batch/http/dto"
	batchUseCase "github.com/allisson/batchdonations/internal/batch/usecase"
)

// CreateBatchOptions holds the create-batch flags.
type CreateBatchOptions struct {
	CreatedBy     string
	OperationType string
	MaxRetries    int
	Priority      int
	BatchSize     int
	Format        string
}

// RunCreateBatch reads a JSON array of donations and creates a queued batch.
// MaxRetries below zero leaves the engine default in place. No batch is created
// when any donation is invalid; every invalid index is printed.
//
// Requirements: Database must be migrated and accessible.
func RunCreateBatch(
	ctx context.Context,
	useCase batchUseCase.BatchUseCase,
	logger *slog.Logger,
	streams Streams,
	opts CreateBatchOptions,
) error {
	if err := validateFormat(opts.Format); err != nil {
		return err
	}

	items, err := readDonations(streams.Reader)
	if err != nil {
		return err
	}

	req := dto.CreateBatchRequest{
		CreatedBy:     opts.CreatedBy,
		OperationType: opts.OperationType,
		Priority:      opts.Priority,
		BatchSize:     opts.BatchSize,
		Configuration: map[string]any{"source": "cli"},
		Items:         items,
	}
	if opts.MaxRetries >= 0 {
		maxRetries := opts.MaxRetries
		req.MaxRetries = &maxRetries
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	logger.Info("creating batch",
		slog.String("created_by", opts.CreatedBy),
		slog.Int("items", len(items)),
	)

	op, err := useCase.CreateBatch(ctx, req.ToInput())
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}

	if opts.Format == "json" {
		if err := writeJSON(streams.Writer, dto.MapBatchToResponse(op)); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(streams.Writer, "Batch created successfully\n")
		_, _ = fmt.Fprintf(streams.Writer, "ID: %s\n", op.ID)
		_, _ = fmt.Fprintf(streams.Writer, "Status: %s\n", op.Status)
		_, _ = fmt.Fprintf(streams.Writer, "Items: %d\n", op.TotalItems)
	}

	logger.Info("batch created",
		slog.String("batch_id", op.ID.String()),
		slog.Int("total_items", op.TotalItems),
	)
	return nil
}

func readDonations(r io.Reader) ([]dto.DonationItemRequest, error) {
	var items []dto.DonationItemRequest
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to parse donations JSON: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("at least one donation is required")
	}
	return items, nil
}
