package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftwork/weft/pkg/engine"
	"github.com/weftwork/weft/pkg/eventbus"
	"github.com/weftwork/weft/pkg/events"
	"github.com/weftwork/weft/pkg/log"
	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/persistence"
)

// Worker consumes execution requests and approval resolutions from the event
// bus and drives the engine. Each handled message runs in the subscriber
// goroutine; many workers can share the consumer group.
type Worker struct {
	workerID    string
	bus         eventbus.EventBus
	persistence persistence.Persistence
	engine      *engine.Engine
	logger      *slog.Logger
}

// NewWorker creates a worker bound to a bus and an engine.
func NewWorker(workerID string, bus eventbus.EventBus, store persistence.Persistence, eng *engine.Engine) *Worker {
	return &Worker{
		workerID:    workerID,
		bus:         bus,
		persistence: store,
		engine:      eng,
		logger:      log.WithModule("worker").With("worker_id", workerID),
	}
}

// Start registers the event handlers and begins consuming.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.bus.Handle(events.ExecutionRequestedEvent, w.handleExecutionRequested); err != nil {
		return err
	}

	if err := w.bus.Handle(events.ApprovalResolvedEvent, w.handleApprovalResolved); err != nil {
		return err
	}

	w.logger.Info("worker starting")

	return w.bus.Subscribe(ctx)
}

func (w *Worker) handleExecutionRequested(ctx context.Context, event any) error {
	request, ok := event.(*events.ExecutionRequested)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	execution, err := w.persistence.ExecutionByID(ctx, request.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", request.ExecutionID, err)
	}

	if execution.Status.Terminal() || execution.Status == models.ExecutionStatusAwaitingApproval {
		// Redelivered message for a run that already progressed.
		w.logger.Debug("skipping execution request",
			"execution_id", execution.ID,
			"status", execution.Status)

		return nil
	}

	if err := w.engine.Run(ctx, execution); err != nil {
		return fmt.Errorf("failed to run execution %s: %w", execution.ID, err)
	}

	w.publishOutcome(ctx, execution)

	return nil
}

func (w *Worker) handleApprovalResolved(ctx context.Context, event any) error {
	resolution, ok := event.(*events.ApprovalResolved)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	execution, err := w.engine.ResumeAfterApproval(ctx, resolution.ApprovalID, resolution.Decision)
	if err != nil {
		// A second delivery of the same resolution is not a failure worth
		// redelivering.
		if errors.Is(err, engine.ErrApprovalResolved) {
			return nil
		}

		return fmt.Errorf("failed to resume execution %s: %w", resolution.ExecutionID, err)
	}

	w.publishOutcome(ctx, execution)

	return nil
}

// publishOutcome announces where a run ended up after this worker drove it.
// Notification failures are logged, never propagated: the ledger already
// holds the truth.
func (w *Worker) publishOutcome(ctx context.Context, execution *models.Execution) {
	base := events.BaseEvent{
		Type:       "",
		Timestamp:  time.Now().UTC(),
		WorkflowID: execution.WorkflowID,
		WorkerID:   w.workerID,
	}

	var event eventbus.Event

	switch execution.Status {
	case models.ExecutionStatusCompleted:
		duration := time.Duration(0)
		if execution.FinishedAt != nil {
			duration = execution.FinishedAt.Sub(execution.StartedAt)
		}

		base.Type = events.ExecutionCompletedEvent
		event = events.ExecutionCompleted{
			BaseEvent:   base,
			ExecutionID: execution.ID,
			Result:      execution.Result(),
			Duration:    duration,
		}
	case models.ExecutionStatusFailed:
		base.Type = events.ExecutionFailedEvent
		event = events.ExecutionFailed{
			BaseEvent:    base,
			ExecutionID:  execution.ID,
			FailedNodeID: execution.FailedNodeID,
			Error:        execution.Error,
		}
	case models.ExecutionStatusAwaitingApproval:
		approvalID, nodeID := w.pendingApprovalFor(ctx, execution)

		base.Type = events.ExecutionSuspendedEvent
		event = events.ExecutionSuspended{
			BaseEvent:   base,
			ExecutionID: execution.ID,
			ApprovalID:  approvalID,
			NodeID:      nodeID,
		}
	case models.ExecutionStatusCancelled:
		base.Type = events.ExecutionCancelledEvent
		event = events.ExecutionCancelled{
			BaseEvent:   base,
			ExecutionID: execution.ID,
		}
	default:
		return
	}

	if err := w.bus.Publish(ctx, execution.ID, event); err != nil {
		w.logger.Warn("failed to publish execution outcome",
			"execution_id", execution.ID,
			"status", execution.Status,
			"error", err)
	}
}

func (w *Worker) pendingApprovalFor(ctx context.Context, execution *models.Execution) (string, string) {
	approvals, err := w.persistence.ListApprovals(ctx, execution.OrganizationID, models.ApprovalStatusPending)
	if err != nil {
		w.logger.Warn("failed to list approvals", "error", err)

		return "", ""
	}

	for _, approval := range approvals {
		if approval.ExecutionID == execution.ID {
			return approval.ID, approval.NodeID
		}
	}

	return "", ""
}
