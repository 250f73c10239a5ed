package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"

	"github.com/heraldflow/herald/pkg/backoff"
	"github.com/heraldflow/herald/pkg/cmd"
	"github.com/heraldflow/herald/pkg/engine"
	"github.com/heraldflow/herald/pkg/log"
	"github.com/heraldflow/herald/pkg/otelhelper"
	"github.com/heraldflow/herald/pkg/template"
	"go.opentelemetry.io/otel/trace"
)

func main() {
	command := &cli.Command{
		Name:                  "herald-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute notification workflow instances",
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
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "gateway-url",
				Usage:   "Notification gateway base URL (logs deliveries when empty)",
				Value:   "",
				Sources: cli.EnvVars("GATEWAY_URL"),
			},
			&cli.IntFlag{
				Name:    "max-attempts",
				Usage:   "Max delivery attempts per node before the instance fails",
				Value:   engine.DefaultMaxAttempts,
				Sources: cli.EnvVars("MAX_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Delay between claim cycles",
				Value:   time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "lease-duration",
				Usage:   "Running claims older than this are reset by the reaper",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("LEASE_DURATION"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Value:   false,
				Sources: cli.EnvVars("OTEL_ENABLED"),
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
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("herald-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Herald Worker")

			var tracer trace.Tracer

			if command.Bool("tracing") {
				var err error

				tracer, err = otelhelper.NewTracer(ctx, "herald-worker")
				if err != nil {
					return err
				}
			}

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			clock := clockwork.NewRealClock()
			dispatcher := cmd.NewDispatcher(command.String("gateway-url"), 10*time.Second, logger)

			executor := engine.NewExecutor(
				persistence,
				dispatcher,
				template.NewRenderer(template.Strict),
				backoff.NewDefaultPolicy(),
				clock,
				command.Int("max-attempts"),
				10*time.Second,
				logger,
			)

			config := engine.DefaultSchedulerConfig()
			config.PollInterval = command.Duration("poll-interval")
			config.LeaseDuration = command.Duration("lease-duration")

			scheduler := engine.NewScheduler(
				workerID,
				persistence,
				executor,
				eventBus,
				clock,
				config,
				logger,
				tracer,
			)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err := scheduler.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "Scheduler stopped with error", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

