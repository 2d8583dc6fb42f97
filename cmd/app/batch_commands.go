package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/allisson/batchdonations/cmd/app/commands"
	"github.com/allisson/batchdonations/internal/app"
	batchUseCase "github.com/allisson/batchdonations/internal/batch/usecase"
	"github.com/allisson/batchdonations/internal/config"
)

func idFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "id",
		Aliases:  []string{"i"},
		Required: true,
		Usage:    "Batch ID (UUID)",
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "text",
		Usage:   "Output format: 'text' or 'json'",
	}
}

// withBatchUseCase builds the container and hands the batch use case to fn.
func withBatchUseCase(
	ctx context.Context,
	fn func(cfg *config.Config, container *app.Container, useCase batchUseCase.BatchUseCase) error,
) error {
	cfg := config.Load()
	container := app.NewContainer(cfg)
	defer func() { _ = container.Shutdown(ctx) }()

	useCase, err := container.BatchUseCase()
	if err != nil {
		return err
	}
	return fn(cfg, container, useCase)
}

func getBatchCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "create-batch",
			Usage: "Create a queued donation batch from a JSON file",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "file",
					Required: true,
					Usage:    "Path to a JSON array of donations, or '-' for stdin",
				},
				&cli.StringFlag{
					Name:     "created-by",
					Aliases:  []string{"u"},
					Required: true,
					Usage:    "Admin user that owns the batch",
				},
				&cli.StringFlag{
					Name:  "operation-type",
					Value: "donations",
					Usage: "Operation type label",
				},
				&cli.IntFlag{
					Name:  "max-retries",
					Value: -1,
					Usage: "Retry budget per item (default: BATCH_DEFAULT_MAX_RETRIES)",
				},
				&cli.IntFlag{
					Name:  "priority",
					Value: 0,
					Usage: "Queue priority (0-100, higher first)",
				},
				&cli.IntFlag{
					Name:  "batch-size",
					Value: 0,
					Usage: "Items per processing chunk (0 uses the default)",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				streams := commands.StdStreams()
				if path := cmd.String("file"); path != "-" {
					f, err := os.Open(path)
					if err != nil {
						return fmt.Errorf("failed to open donations file: %w", err)
					}
					defer func() { _ = f.Close() }()
					streams.Reader = f
				}

				return withBatchUseCase(ctx, func(_ *config.Config, c *app.Container, uc batchUseCase.BatchUseCase) error {
					return commands.RunCreateBatch(ctx, uc, c.Logger(), streams, commands.CreateBatchOptions{
						CreatedBy:     cmd.String("created-by"),
						OperationType: cmd.String("operation-type"),
						MaxRetries:    int(cmd.Int("max-retries")),
						Priority:      int(cmd.Int("priority")),
						BatchSize:     int(cmd.Int("batch-size")),
						Format:        cmd.String("format"),
					})
				})
			},
		},
		{
			Name:  "process-batch",
			Usage: "Run a queued batch to completion",
			Flags: []cli.Flag{idFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withBatchUseCase(ctx, func(_ *config.Config, c *app.Container, uc batchUseCase.BatchUseCase) error {
					return commands.RunProcessBatch(
						ctx, uc, c.Logger(), commands.StdStreams().Writer,
						cmd.String("id"), cmd.String("format"),
					)
				})
			},
		},
		{
			Name:  "retry-batch",
			Usage: "Retry the failed items of a partial or failed batch",
			Flags: []cli.Flag{idFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withBatchUseCase(ctx, func(_ *config.Config, c *app.Container, uc batchUseCase.BatchUseCase) error {
					return commands.RunRetryBatch(
						ctx, uc, c.Logger(), commands.StdStreams().Writer,
						cmd.String("id"), cmd.String("format"),
					)
				})
			},
		},
		{
			Name:  "cancel-batch",
			Usage: "Cancel a batch that has not finished",
			Flags: []cli.Flag{
				idFlag(),
				&cli.StringFlag{
					Name:    "reason",
					Aliases: []string{"r"},
					Usage:   "Reason recorded in the batch error log",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withBatchUseCase(ctx, func(_ *config.Config, c *app.Container, uc batchUseCase.BatchUseCase) error {
					return commands.RunCancelBatch(
						ctx, uc, c.Logger(), commands.StdStreams().Writer,
						cmd.String("id"), cmd.String("reason"), cmd.String("format"),
					)
				})
			},
		},
		{
			Name:  "batch-status",
			Usage: "Show the progress of a batch",
			Flags: []cli.Flag{idFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withBatchUseCase(ctx, func(_ *config.Config, c *app.Container, uc batchUseCase.BatchUseCase) error {
					return commands.RunBatchStatus(
						ctx, uc, c.Logger(), commands.StdStreams().Writer,
						cmd.String("id"), cmd.String("format"),
					)
				})
			},
		},
		{
			Name:  "clean-batches",
			Usage: "Delete settled batches older than specified days",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "days",
					Aliases: []string{"d"},
					Usage:   "Delete batches settled more than this many days ago (default: BATCH_RETENTION_DAYS)",
				},
				&cli.BoolFlag{
					Name:    "dry-run",
					Aliases: []string{"n"},
					Value:   false,
					Usage:   "Show how many batches would be deleted without deleting",
				},
				formatFlag(),
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withBatchUseCase(ctx, func(cfg *config.Config, c *app.Container, uc batchUseCase.BatchUseCase) error {
					days := cfg.BatchRetentionDays
					if cmd.IsSet("days") {
						days = int(cmd.Int("days"))
					}
					return commands.RunCleanBatches(
						ctx, uc, c.Logger(), commands.StdStreams().Writer,
						days, cmd.Bool("dry-run"), cmd.String("format"),
					)
				})
			},
		},
	}
}
