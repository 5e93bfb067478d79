package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/closewise/closewise/pkg/cmd"
	"github.com/closewise/closewise/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "closewise-compliance",
		Usage:                 "Start the Closewise compliance worker",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = fmt.Sprintf("compliance-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("closewise-compliance").With("worker_id", workerID)

			logger.Info("Initializing Closewise compliance worker", "worker_id", workerID)

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			repo := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := repo.Close(ctx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			worker := NewWorker(workerID, repo, eventBus, logger)

			return worker.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
