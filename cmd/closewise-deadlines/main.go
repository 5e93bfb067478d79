package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/closewise/closewise/pkg/cmd"
	"github.com/closewise/closewise/pkg/log"
)

const defaultWindowHours = 48

func main() {
	command := &cli.Command{
		Name:                  "closewise-deadlines",
		Usage:                 "Start the Closewise condition deadline scanner",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scanner-id",
				Aliases: []string{"id"},
				Usage:   "Custom scanner ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SCANNER_ID"),
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
				Name:    "redis-url",
				Usage:   "Redis URL for notification dedupe (optional; single-replica runs can omit it)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for deadline scans",
				Value:   "*/15 * * * *",
				Sources: cli.EnvVars("SCAN_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "window-hours",
				Usage:   "How far ahead of the due date an approaching notification fires",
				Value:   defaultWindowHours,
				Sources: cli.EnvVars("WINDOW_HOURS"),
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

			scannerID := command.String("scanner-id")
			if scannerID == "" {
				scannerID = fmt.Sprintf("deadlines-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("closewise-deadlines").With("scanner_id", scannerID)

			logger.Info("Initializing Closewise deadline scanner", "scanner_id", scannerID)

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

			var redisClient *redis.Client

			if redisURL := command.String("redis-url"); redisURL != "" {
				opts, err := redis.ParseURL(redisURL)
				if err != nil {
					return fmt.Errorf("invalid redis URL: %w", err)
				}

				redisClient = redis.NewClient(opts)

				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()

				if err := redisClient.Ping(pingCtx).Err(); err != nil {
					return fmt.Errorf("failed to connect to Redis: %w", err)
				}
			}

			window := time.Duration(command.Int("window-hours")) * time.Hour
			scanner := NewScanner(scannerID, repo, eventBus, redisClient, window, logger)

			err := scanner.Start(ctx, command.String("schedule"))
			if err != nil {
				return err
			}

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

			sig := <-signals
			logger.Info("Received signal", "signal", sig)
			logger.Info("Shutting down gracefully...")
			scanner.Stop()

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
