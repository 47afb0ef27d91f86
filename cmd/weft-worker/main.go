package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/weftwork/weft/pkg/cmd"
	"github.com/weftwork/weft/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "weft-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute workflows",
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
				Name:    "sandbox-endpoint",
				Usage:   "Remote sandbox endpoint for code nodes (local subprocess if unset)",
				Sources: cli.EnvVars("SANDBOX_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "python-path",
				Usage:   "Python interpreter for the local sandbox",
				Value:   "python3",
				Sources: cli.EnvVars("SANDBOX_PYTHON"),
			},
			&cli.StringFlag{
				Name:    "data-source-url",
				Usage:   "Base URL of the tabular data source service",
				Sources: cli.EnvVars("DATA_SOURCE_URL"),
			},
			&cli.StringFlag{
				Name:    "llm-api-key",
				Usage:   "API key for the LLM provider",
				Sources: cli.EnvVars("LLM_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "llm-endpoint",
				Usage:   "Chat completions endpoint (provider default if unset)",
				Sources: cli.EnvVars("LLM_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "queue-addr",
				Usage:   "Redis address for the queue trigger (disabled if unset)",
				Sources: cli.EnvVars("QUEUE_ADDR"),
			},
			&cli.StringFlag{
				Name:    "queue-name",
				Usage:   "Redis list consumed by the queue trigger",
				Value:   "weft:runs",
				Sources: cli.EnvVars("QUEUE_NAME"),
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

			logger := log.WithModule("weft-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Weft Worker")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "weft-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			eng := cmd.NewEngine(ctx, logger, store, cmd.EngineOptions{
				SandboxEndpoint: command.String("sandbox-endpoint"),
				PythonPath:      command.String("python-path"),
				DataSourceURL:   command.String("data-source-url"),
				LLMEndpoint:     command.String("llm-endpoint"),
				LLMAPIKey:       command.String("llm-api-key"),
				ServiceName:     "weft-worker",
			})

			manager := NewWorkerManager(workerID, store, eventBus, eng, logger, queueOptions(command))

			return manager.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
