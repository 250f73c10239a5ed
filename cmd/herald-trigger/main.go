// herald-trigger runs trigger sources that feed external events into the
// ingest service: a Redis queue consumer and a cron scheduler. It can also
// fire a single trigger from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"

	"github.com/heraldflow/herald/pkg/cmd"
	"github.com/heraldflow/herald/pkg/ingest"
	"github.com/heraldflow/herald/pkg/log"
	"github.com/heraldflow/herald/pkg/sources/queue"
	"github.com/heraldflow/herald/pkg/sources/schedule"
)

func main() {
	command := &cli.Command{
		Name:                  "herald-trigger",
		Usage:                 "Feed external trigger events into workflow instances",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			fireCommand(),
			queueCommand(),
			scheduleCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func newIngestService(ctx context.Context, command *cli.Command) (*ingest.Service, func()) {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("herald-trigger")

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	eventBus := cmd.NewEventBus(command.String("event-bus"), logger)

	cleanup := func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}

		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}

	return ingest.NewService(persistence, eventBus, clockwork.NewRealClock(), logger), cleanup
}

func fireCommand() *cli.Command {
	return &cli.Command{
		Name:  "fire",
		Usage: "Fire a single trigger",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "workflow-id",
				Usage:    "Workflow to trigger",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "idempotency-key",
				Usage:    "Idempotency key for this trigger",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "context",
				Usage: "Trigger context as a JSON object",
				Value: "{}",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ingestService, cleanup := newIngestService(ctx, command)
			defer cleanup()

			var triggerContext map[string]any
			if err := json.Unmarshal([]byte(command.String("context")), &triggerContext); err != nil {
				return fmt.Errorf("invalid context JSON: %w", err)
			}

			result, err := ingestService.Ingest(
				ctx,
				command.String("workflow-id"),
				command.String("idempotency-key"),
				triggerContext,
			)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(map[string]any{
				"instance": result.Instance,
				"created":  result.Created,
			}, "", "  ")
			if err != nil {
				return err
			}

			fmt.Println(string(out))

			return nil
		},
	}
}

func queueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Consume trigger messages from a Redis queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address",
				Value:   "localhost:6379",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				Value:   "",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Queue (Redis list) to consume",
				Value:   "herald:triggers",
				Sources: cli.EnvVars("TRIGGER_QUEUE"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ingestService, cleanup := newIngestService(ctx, command)
			defer cleanup()

			logger := log.WithModule("herald-trigger")

			source, err := queue.NewSource(
				map[string]string{
					"addr":     command.String("redis-addr"),
					"password": command.String("redis-password"),
				},
				command.String("queue"),
				ingestService,
				logger,
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := source.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			source.Stop()

			return nil
		},
	}
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Fire triggers on cron schedules",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "entries",
				Usage:    "Path to a JSON file with schedule entries [{workflow_id, cron}]",
				Required: true,
				Sources:  cli.EnvVars("SCHEDULE_ENTRIES"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ingestService, cleanup := newIngestService(ctx, command)
			defer cleanup()

			logger := log.WithModule("herald-trigger")

			data, err := os.ReadFile(command.String("entries"))
			if err != nil {
				return fmt.Errorf("failed to read schedule entries: %w", err)
			}

			var entries []schedule.Entry
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("invalid schedule entries: %w", err)
			}

			source, err := schedule.NewSource(entries, ingestService, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := source.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			source.Stop()

			return nil
		},
	}
}
