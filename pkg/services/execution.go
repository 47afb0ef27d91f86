package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weftwork/weft/pkg/engine"
	"github.com/weftwork/weft/pkg/eventbus"
	"github.com/weftwork/weft/pkg/events"
	"github.com/weftwork/weft/pkg/log"
	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/persistence"
)

// Execution is the trigger front door and execution query service. Every
// trigger source (manual, schedule, webhook, form, queue) funnels through
// Request: it snapshots the definition, creates the ledger row and hands the
// run to a worker over the event bus.
type Execution struct {
	persistence persistence.Persistence
	bus         eventbus.EventPublisher
	engine      *engine.Engine
	logger      *slog.Logger
}

// NewExecution creates the execution service. The engine is only used for
// the synchronous single-node debug path.
func NewExecution(store persistence.Persistence, bus eventbus.EventPublisher, eng *engine.Engine) *Execution {
	return &Execution{
		persistence: store,
		bus:         bus,
		engine:      eng,
		logger:      log.WithModule("execution_service"),
	}
}

// Request starts a run of a workflow: snapshot, pending ledger row, and an
// execution.requested event for the workers. The returned execution id is
// what callers poll.
func (s *Execution) Request(ctx context.Context, workflowID string, triggerType models.TriggerType, inputs map[string]any) (*models.Execution, error) {
	workflow, err := s.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	execution := &models.Execution{
		ID:             uuid.New().String(),
		WorkflowID:     workflow.ID,
		OrganizationID: workflow.OrganizationID,
		Status:         models.ExecutionStatusPending,
		TriggerType:    triggerType,
		Inputs:         inputs,
		Snapshot:       workflow,
		NodeOutputs:    make(map[string]models.NodeOutput),
		StartedAt:      time.Now().UTC(),
	}

	if err := s.persistence.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	event := events.ExecutionRequested{
		BaseEvent: events.BaseEvent{
			Type:       events.ExecutionRequestedEvent,
			Timestamp:  time.Now().UTC(),
			WorkflowID: workflow.ID,
		},
		ExecutionID: execution.ID,
		TriggerType: triggerType,
	}

	if err := s.bus.Publish(ctx, execution.ID, event); err != nil {
		return nil, fmt.Errorf("failed to publish execution request: %w", err)
	}

	s.logger.Info("execution requested",
		"execution_id", execution.ID,
		"workflow_id", workflow.ID,
		"trigger_type", triggerType)

	return execution, nil
}

// DispatchScheduled starts a scheduled run for a due schedule. It implements
// the scheduler's dispatcher contract.
func (s *Execution) DispatchScheduled(ctx context.Context, schedule *models.WorkflowSchedule) error {
	_, err := s.Request(ctx, schedule.WorkflowID, models.TriggerTypeScheduled, nil)

	return err
}

// Get returns one execution for status polling.
func (s *Execution) Get(ctx context.Context, executionID string) (*models.Execution, error) {
	return s.persistence.ExecutionByID(ctx, executionID)
}

// History lists execution summaries for a workflow, newest first.
func (s *Execution) History(ctx context.Context, workflowID string, limit int) ([]models.ExecutionSummary, error) {
	return s.persistence.ListExecutions(ctx, workflowID, limit)
}

// Cancel sets the advisory cancellation flag on a non-terminal run. The
// engine observes it between node steps.
func (s *Execution) Cancel(ctx context.Context, executionID string) error {
	execution, err := s.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.Terminal() {
		return ErrExecutionTerminal
	}

	if err := s.persistence.RequestCancel(ctx, executionID); err != nil {
		return err
	}

	s.logger.Info("cancellation requested", "execution_id", executionID)

	return nil
}

// RunNode evaluates one node synchronously for authoring and debugging. It
// bypasses the ledger entirely.
func (s *Execution) RunNode(ctx context.Context, workflowID, nodeID string, testInput any) (any, error) {
	workflow, err := s.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return s.engine.RunSingleNode(ctx, workflow, nodeID, testInput)
}

// Approvals lists pending approvals for an organization.
func (s *Execution) Approvals(ctx context.Context, organizationID string, status models.ApprovalStatus) ([]*models.PendingApproval, error) {
	return s.persistence.ListApprovals(ctx, organizationID, status)
}

// ResolveApproval accepts an approve/reject decision and hands the resume to
// a worker. The decision is validated against the stored approval first so a
// second resolution fails fast.
func (s *Execution) ResolveApproval(ctx context.Context, approvalID string, decision models.ApprovalDecision) error {
	if decision != models.ApprovalDecisionApproved && decision != models.ApprovalDecisionRejected {
		return ErrInvalidDecision
	}

	approval, err := s.persistence.ApprovalByID(ctx, approvalID)
	if err != nil {
		return err
	}

	if approval.Status != models.ApprovalStatusPending {
		return ErrApprovalResolved
	}

	event := events.ApprovalResolved{
		BaseEvent: events.BaseEvent{
			Type:       events.ApprovalResolvedEvent,
			Timestamp:  time.Now().UTC(),
			WorkflowID: approval.WorkflowID,
		},
		ApprovalID:  approvalID,
		ExecutionID: approval.ExecutionID,
		Decision:    decision,
	}

	if err := s.bus.Publish(ctx, approval.ExecutionID, event); err != nil {
		return fmt.Errorf("failed to publish approval resolution: %w", err)
	}

	s.logger.Info("approval resolution requested",
		"approval_id", approvalID,
		"execution_id", approval.ExecutionID,
		"decision", decision)

	return nil
}
