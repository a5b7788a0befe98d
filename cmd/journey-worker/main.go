package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beaconcrm/journey/pkg/cmd"
	"github.com/beaconcrm/journey/pkg/contacts"
	"github.com/beaconcrm/journey/pkg/delivery"
	"github.com/beaconcrm/journey/pkg/engine"
	"github.com/beaconcrm/journey/pkg/log"
	"github.com/beaconcrm/journey/pkg/otelhelper"
	"github.com/beaconcrm/journey/pkg/scheduler"
	"github.com/beaconcrm/journey/pkg/webhookcaller"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "journey-worker",
		EnableShellCompletion: true,
		Usage:                 "Execute due workflow steps from the work queue",
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
				Name:    "queue-url",
				Usage:   "Redis URL for the work queue (defaults to the database-backed queue)",
				Sources: cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often to poll the queue for due work",
				Value:   scheduler.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum work items claimed per poll",
				Value:   scheduler.DefaultBatchSize,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.IntFlag{
				Name:    "max-attempts",
				Usage:   "Retry budget per work item before the enrollment fails",
				Value:   scheduler.DefaultMaxAttempts,
				Sources: cli.EnvVars("MAX_ATTEMPTS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, pretty)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("journey-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing Journey Worker")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			queue := cmd.NewQueue(ctx, logger, command.String("queue-url"), persistence)

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger, "journey-worker")
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			tracer, err := otelhelper.NewTracer(ctx, "journey-worker")
			if err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			}

			eng := engine.New(engine.Config{
				Store:    persistence,
				Queue:    queue,
				Delivery: delivery.NewSlogDelivery(logger),
				Webhooks: webhookcaller.NewHTTPCaller(logger),
				Contacts: contacts.NewMemoryStore(),
				Bus:      eventBus,
				Logger:   logger,
			})

			sched := scheduler.New(scheduler.Config{
				WorkerID:     workerID,
				Queue:        queue,
				Engine:       eng,
				Logger:       logger,
				Tracer:       tracer,
				PollInterval: command.Duration("poll-interval"),
				BatchSize:    command.Int("batch-size"),
				MaxAttempts:  command.Int("max-attempts"),
			})

			err = sched.Start(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "Scheduler stopped with error", "error", err)

				return err
			}

			// Give in-flight dispatches a moment to settle before teardown.
			time.Sleep(100 * time.Millisecond)

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
