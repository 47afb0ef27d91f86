// Package postgresql provides the PostgreSQL persistence implementation for
// workflows, executions, approvals and schedules.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	approvalRepo  *ApprovalRepository
	scheduleRepo  *ScheduleRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		workflowRepo:  NewWorkflowRepository(database, logger),
		executionRepo: NewExecutionRepository(database, logger),
		approvalRepo:  NewApprovalRepository(database, logger),
		scheduleRepo:  NewScheduleRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Workflow repository facade.

func (p *Persistence) Workflows(ctx context.Context, organizationID string) ([]*models.Workflow, error) {
	return p.workflowRepo.GetAll(ctx, organizationID)
}

func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	return p.workflowRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return p.workflowRepo.Save(ctx, workflow)
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return p.workflowRepo.Delete(ctx, id)
}

// Execution ledger facade.

func (p *Persistence) CreateExecution(ctx context.Context, execution *models.Execution) error {
	return p.executionRepo.Create(ctx, execution)
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	return p.executionRepo.GetByID(ctx, id)
}

func (p *Persistence) ListExecutions(ctx context.Context, workflowID string, limit int) ([]models.ExecutionSummary, error) {
	return p.executionRepo.List(ctx, workflowID, limit)
}

func (p *Persistence) AppendNodeOutput(ctx context.Context, executionID, nodeID string, output models.NodeOutput) error {
	return p.executionRepo.AppendNodeOutput(ctx, executionID, nodeID, output)
}

func (p *Persistence) SetExecutionStatus(ctx context.Context, executionID string, status models.ExecutionStatus, failedNodeID, errMsg string, finishedAt *time.Time) error {
	return p.executionRepo.SetStatus(ctx, executionID, status, failedNodeID, errMsg, finishedAt)
}

func (p *Persistence) RequestCancel(ctx context.Context, executionID string) error {
	return p.executionRepo.RequestCancel(ctx, executionID)
}

func (p *Persistence) CancelRequested(ctx context.Context, executionID string) (bool, error) {
	return p.executionRepo.CancelRequested(ctx, executionID)
}

// Approval repository facade.

func (p *Persistence) CreateApproval(ctx context.Context, approval *models.PendingApproval) error {
	return p.approvalRepo.Create(ctx, approval)
}

func (p *Persistence) ApprovalByID(ctx context.Context, id string) (*models.PendingApproval, error) {
	return p.approvalRepo.GetByID(ctx, id)
}

func (p *Persistence) ListApprovals(ctx context.Context, organizationID string, status models.ApprovalStatus) ([]*models.PendingApproval, error) {
	return p.approvalRepo.List(ctx, organizationID, status)
}

func (p *Persistence) UpdateApprovalStatus(ctx context.Context, id string, status models.ApprovalStatus) error {
	return p.approvalRepo.UpdateStatus(ctx, id, status)
}

// Schedule repository facade.

func (p *Persistence) UpsertSchedule(ctx context.Context, schedule *models.WorkflowSchedule) error {
	return p.scheduleRepo.Upsert(ctx, schedule)
}

func (p *Persistence) ScheduleByWorkflowID(ctx context.Context, workflowID string) (*models.WorkflowSchedule, error) {
	return p.scheduleRepo.GetByWorkflowID(ctx, workflowID)
}

func (p *Persistence) DeleteScheduleByWorkflowID(ctx context.Context, workflowID string) error {
	return p.scheduleRepo.DeleteByWorkflowID(ctx, workflowID)
}

func (p *Persistence) DueSchedules(ctx context.Context, now time.Time) ([]*models.WorkflowSchedule, error) {
	return p.scheduleRepo.Due(ctx, now)
}

func (p *Persistence) SaveSchedule(ctx context.Context, schedule *models.WorkflowSchedule) error {
	return p.scheduleRepo.Save(ctx, schedule)
}
