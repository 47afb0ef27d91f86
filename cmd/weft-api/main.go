package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/weftwork/weft/pkg/cmd"
	"github.com/weftwork/weft/pkg/log"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "weft-api",
		Usage:                 "Create and manage workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Weft API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "weft-api", logger)
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
				ServiceName:     "weft-api",
			})

			api := NewAPI(logger, store, eventBus, eng)

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
