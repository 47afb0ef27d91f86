// Package persistence provides the data storage abstraction layer for
// workflows, executions, approvals and schedules.
package persistence

import (
	"context"
	"time"

	"github.com/weftwork/weft/pkg/models"
)

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Workflows(ctx context.Context, organizationID string) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// ExecutionRepository is the execution ledger. It is the only component
// mutated concurrently by multiple runs; writes for one execution come from
// a single goroutine, so per-execution ordering is the caller's guarantee
// and cross-execution isolation is this layer's.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]models.ExecutionSummary, error)

	// AppendNodeOutput records one node's resolved output. Outputs accumulate
	// monotonically; a node id is never written twice within one execution.
	AppendNodeOutput(ctx context.Context, executionID, nodeID string, output models.NodeOutput) error

	// SetExecutionStatus transitions the run state. finishedAt is set for
	// terminal states, failure detail for failed ones.
	SetExecutionStatus(ctx context.Context, executionID string, status models.ExecutionStatus, failedNodeID, errMsg string, finishedAt *time.Time) error

	// RequestCancel sets the advisory cancellation flag. The engine observes
	// it cooperatively between node steps.
	RequestCancel(ctx context.Context, executionID string) error
	CancelRequested(ctx context.Context, executionID string) (bool, error)
}

// ApprovalRepository stores pending approvals, one per in-flight approval
// node visit.
type ApprovalRepository interface {
	CreateApproval(ctx context.Context, approval *models.PendingApproval) error
	ApprovalByID(ctx context.Context, id string) (*models.PendingApproval, error)
	ListApprovals(ctx context.Context, organizationID string, status models.ApprovalStatus) ([]*models.PendingApproval, error)
	UpdateApprovalStatus(ctx context.Context, id string, status models.ApprovalStatus) error
}

// ScheduleRepository stores derived schedule rows, keyed one-per-workflow.
type ScheduleRepository interface {
	UpsertSchedule(ctx context.Context, schedule *models.WorkflowSchedule) error
	ScheduleByWorkflowID(ctx context.Context, workflowID string) (*models.WorkflowSchedule, error)
	DeleteScheduleByWorkflowID(ctx context.Context, workflowID string) error
	DueSchedules(ctx context.Context, now time.Time) ([]*models.WorkflowSchedule, error)
	SaveSchedule(ctx context.Context, schedule *models.WorkflowSchedule) error
}

// Persistence aggregates all repositories behind one handle.
type Persistence interface {
	WorkflowRepository
	ExecutionRepository
	ApprovalRepository
	ScheduleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
