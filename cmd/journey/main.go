package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/beaconcrm/journey/pkg/cmd"
	"github.com/beaconcrm/journey/pkg/log"
	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/sources/schedule"
	"github.com/beaconcrm/journey/pkg/validation"
	cli "github.com/urfave/cli/v3"
)

var errInvalidDefinition = errors.New("workflow definition is invalid")

func main() {
	command := &cli.Command{
		Name:                  "journey",
		Usage:                 "Marketing automation workflow tooling",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			validateCommand(),
			scheduleCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// validateCommand lints a workflow definition file: schema first, then the
// graph checks. Warnings print but do not fail the run.
func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a workflow definition file",
		ArgsUsage: "<definition.json>",
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errors.New("usage: journey validate <definition.json>")
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			schemaIssues, err := validation.ValidateDefinition(raw)
			if err != nil {
				return err
			}

			if len(schemaIssues) > 0 {
				printIssues("ERROR", schemaIssues)

				return errInvalidDefinition
			}

			var workflow models.Workflow

			err = json.Unmarshal(raw, &workflow)
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", path, err)
			}

			result := validation.Validate(workflow.Steps)

			printIssues("ERROR", result.Errors)
			printIssues("WARN", result.Warnings)

			if !result.Valid {
				return errInvalidDefinition
			}

			fmt.Printf("%s: valid (%d warnings)\n", path, len(result.Warnings))

			return nil
		},
	}
}

// scheduleCommand runs a single recurring trigger on a cron expression,
// publishing trigger events for the dispatcher.
func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Fire a trigger on a cron schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "cron",
				Usage:    "Cron expression (e.g. '0 9 * * MON')",
				Required: true,
				Sources:  cli.EnvVars("CRON_SPEC"),
			},
			&cli.StringFlag{
				Name:     "trigger-type",
				Usage:    "Trigger type to fire",
				Required: true,
				Sources:  cli.EnvVars("TRIGGER_TYPE"),
			},
			&cli.StringFlag{
				Name:     "contact-id",
				Usage:    "Contact to enroll on each firing",
				Required: true,
				Sources:  cli.EnvVars("CONTACT_ID"),
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
			log.Setup(command.String("log-level"), "text")

			logger := log.WithModule("journey-schedule")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger, "journey-schedule")
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			source := schedule.NewSource(eventBus, logger, []schedule.Entry{
				{
					Spec:        command.String("cron"),
					TriggerType: models.TriggerType(command.String("trigger-type")),
					ContactID:   command.String("contact-id"),
				},
			})

			err := source.Start(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		},
	}
}

func printIssues(level string, issues []validation.Issue) {
	for _, issue := range issues {
		if issue.StepID != "" {
			fmt.Printf("%s %s [step %s]: %s\n", level, issue.Code, issue.StepID, issue.Message)

			continue
		}

		fmt.Printf("%s %s: %s\n", level, issue.Code, issue.Message)
	}
}
