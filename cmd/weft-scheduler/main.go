// Package main provides the Weft scheduler: it ticks over the derived
// schedule rows and dispatches due workflow runs to the workers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/weftwork/weft/pkg/cmd"
	"github.com/weftwork/weft/pkg/log"
	"github.com/weftwork/weft/pkg/scheduler"
	"github.com/weftwork/weft/pkg/services"
)

func main() {
	logger := log.WithModule("weft-scheduler")

	command := &cli.Command{
		Name:                  "weft-scheduler",
		Usage:                 "Dispatch scheduled workflow runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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

			logger.InfoContext(ctx, "Initializing Weft Scheduler")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "weft-scheduler", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			// The scheduler only creates pending runs; it never evaluates
			// nodes, so no engine is wired.
			dispatcher := services.NewExecution(store, eventBus, nil)
			sched := scheduler.NewScheduler(store, dispatcher)

			if err := sched.Start(ctx); err != nil {
				return err
			}

			defer func() {
				if err := sched.Stop(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
				}
			}()

			logger.InfoContext(ctx, "Scheduler started successfully")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down scheduler...")

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
