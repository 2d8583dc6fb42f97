package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/batchdonations/cmd/app/commands"
	"github.com/allisson/batchdonations/internal/app"
	"github.com/allisson/batchdonations/internal/config"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "server",
			Usage: "Start the admin API, the metrics server and the queue worker",
			Action: func(ctx context.Context, _ *cli.Command) error {
				return commands.RunServer(ctx, version)
			},
		},
		{
			Name:  "worker",
			Usage: "Process queued batches without serving the admin API",
			Action: func(ctx context.Context, _ *cli.Command) error {
				return commands.RunWorker(ctx, version)
			},
		},
		{
			Name:  "migrate",
			Usage: "Apply the batch table migrations",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "steps",
					Value: 0,
					Usage: "Versions to move: 0 applies all pending, negative rolls back",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				db, err := container.DB()
				if err != nil {
					return err
				}
				return commands.RunMigrations(container.Logger(), db, cfg.DBDriver, int(cmd.Int("steps")))
			},
		},
	}
}
