// Package main provides the Weft worker: it consumes execution requests and
// approval resolutions from the event bus and drives the graph engine.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/weftwork/weft/pkg/engine"
	"github.com/weftwork/weft/pkg/eventbus"
	"github.com/weftwork/weft/pkg/persistence"
	"github.com/weftwork/weft/pkg/services"
	"github.com/weftwork/weft/pkg/triggers/queue"
)

type WorkerManager struct {
	id           string
	logger       *slog.Logger
	persistence  persistence.Persistence
	eventBus     eventbus.EventBus
	engine       *engine.Engine
	queueOptions queue.Options
}

func NewWorkerManager(
	id string,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	eng *engine.Engine,
	logger *slog.Logger,
	queueOptions queue.Options,
) *WorkerManager {
	return &WorkerManager{
		id:           id,
		logger:       logger.With("module", "weft-worker"),
		persistence:  store,
		eventBus:     eventBus,
		engine:       eng,
		queueOptions: queueOptions,
	}
}

func queueOptions(command *cli.Command) queue.Options {
	return queue.Options{
		Addr:  command.String("queue-addr"),
		Queue: command.String("queue-name"),
	}
}

// Start runs the worker until SIGINT or SIGTERM.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	worker := services.NewWorker(w.id, w.eventBus, w.persistence, w.engine)
	if err := worker.Start(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to start worker", "error", err)

		return err
	}

	if w.queueOptions.Addr != "" {
		frontDoor := services.NewExecution(w.persistence, w.eventBus, w.engine)

		trigger, err := queue.NewTrigger(w.queueOptions, frontDoor)
		if err != nil {
			return err
		}

		if err := trigger.Start(ctx); err != nil {
			return err
		}

		defer func() {
			if err := trigger.Stop(ctx); err != nil {
				w.logger.ErrorContext(ctx, "Failed to stop queue trigger", "error", err)
			}
		}()
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}
