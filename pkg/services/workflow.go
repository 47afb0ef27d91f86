// Package services holds the application services between the HTTP surface,
// the event bus and the engine: workflow authoring, the execution front door
// and the worker loop.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weftwork/weft/pkg/log"
	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/persistence"
)

// Reconciler recomputes the derived schedule row for a workflow. The
// scheduler implements it; the workflow service calls it on every save.
type Reconciler interface {
	Reconcile(ctx context.Context, workflow *models.Workflow) error
}

// Workflow is the authoring service: validation-gated CRUD plus schedule
// reconciliation on every save.
type Workflow struct {
	persistence persistence.Persistence
	reconciler  Reconciler
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(store persistence.Persistence, reconciler Reconciler) *Workflow {
	return &Workflow{
		persistence: store,
		reconciler:  reconciler,
		logger:      log.WithModule("workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List retrieves the workflows of an organization.
func (w *Workflow) List(ctx context.Context, organizationID string) ([]*models.Workflow, error) {
	return w.persistence.Workflows(ctx, organizationID)
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowByID(ctx, id)
}

// Create validates and stores a new workflow, then derives its schedule.
// Malformed graphs are rejected here, never at run time.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, *models.ValidationResult, error) {
	result, err := workflow.Validate()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := w.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	if err := w.reconciler.Reconcile(ctx, workflow); err != nil {
		return nil, nil, fmt.Errorf("failed to reconcile schedule: %w", err)
	}

	w.logger.Info("workflow created",
		"workflow_id", workflow.ID,
		"organization_id", workflow.OrganizationID,
		"warnings", len(result.Warnings))

	return workflow, result, nil
}

// Update validates and stores an edited workflow, re-deriving its schedule.
// In-flight executions keep their snapshots and never observe the edit.
func (w *Workflow) Update(ctx context.Context, workflowID string, workflow *models.Workflow) (*models.Workflow, *models.ValidationResult, error) {
	existing, err := w.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}

	workflow.ID = workflowID
	workflow.OrganizationID = existing.OrganizationID
	workflow.CreatedBy = existing.CreatedBy
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	result, err := workflow.Validate()
	if err != nil {
		return nil, nil, err
	}

	if err := w.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	if err := w.reconciler.Reconcile(ctx, workflow); err != nil {
		return nil, nil, fmt.Errorf("failed to reconcile schedule: %w", err)
	}

	return workflow, result, nil
}

// Delete removes a workflow and its derived schedule.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	if err := w.persistence.DeleteWorkflow(ctx, workflowID); err != nil {
		return err
	}

	if err := w.persistence.DeleteScheduleByWorkflowID(ctx, workflowID); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	w.logger.Info("workflow deleted", "workflow_id", workflowID)

	return nil
}
