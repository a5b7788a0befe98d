package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/beaconcrm/journey/pkg/cmd"
	"github.com/beaconcrm/journey/pkg/dispatcher"
	"github.com/beaconcrm/journey/pkg/events"
	"github.com/beaconcrm/journey/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "journey-dispatcher",
		EnableShellCompletion: true,
		Usage:                 "Enroll contacts into workflows when triggers fire",
		Flags: []cli.Flag{
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

			logger := log.WithModule("journey-dispatcher")
			logger.InfoContext(ctx, "Initializing Journey Dispatcher")

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

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger, "journey-dispatcher")
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			d := dispatcher.New(dispatcher.Config{
				Store:  persistence,
				Queue:  queue,
				Bus:    eventBus,
				Logger: logger,
			})

			err := eventBus.Handle(events.TriggerFiredEvent, func(ctx context.Context, event any) error {
				fired, ok := event.(*events.TriggerFired)
				if !ok {
					return fmt.Errorf("unexpected event payload %T", event)
				}

				return d.TriggerWorkflows(ctx, *fired)
			})
			if err != nil {
				return fmt.Errorf("failed to register trigger handler: %w", err)
			}

			err = eventBus.Subscribe(ctx)
			if err != nil {
				return fmt.Errorf("failed to subscribe to event bus: %w", err)
			}

			logger.InfoContext(ctx, "Dispatcher running")

			<-ctx.Done()

			logger.InfoContext(ctx, "Dispatcher stopped")

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
