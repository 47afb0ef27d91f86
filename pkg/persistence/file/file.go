// Package file provides a JSON-on-disk persistence implementation, used for
// local development and as the in-process backend in tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/persistence"
)

// Persistence keeps every collection in memory guarded by one mutex and
// mirrors it to JSON files under the root directory. An empty root keeps the
// store purely in-memory (handy in tests).
type Persistence struct {
	root string
	mu   sync.RWMutex

	workflows  map[string]*models.Workflow
	executions map[string]*models.Execution
	approvals  map[string]*models.PendingApproval
	schedules  map[string]*models.WorkflowSchedule // keyed by workflow id
}

// NewPersistence creates a file persistence rooted at the given directory,
// loading any previously persisted state.
func NewPersistence(root string) (*Persistence, error) {
	p := &Persistence{
		root:       root,
		workflows:  make(map[string]*models.Workflow),
		executions: make(map[string]*models.Execution),
		approvals:  make(map[string]*models.PendingApproval),
		schedules:  make(map[string]*models.WorkflowSchedule),
	}

	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persistence directory: %w", err)
		}

		if err := p.load(); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Persistence) load() error {
	if err := loadCollection(p.root, "workflows.json", &p.workflows); err != nil {
		return err
	}

	if err := loadCollection(p.root, "executions.json", &p.executions); err != nil {
		return err
	}

	if err := loadCollection(p.root, "approvals.json", &p.approvals); err != nil {
		return err
	}

	return loadCollection(p.root, "schedules.json", &p.schedules)
}

func loadCollection[T any](root, name string, into *map[string]T) error {
	raw, err := os.ReadFile(filepath.Join(root, name))
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}

	return nil
}

// flush must be called with the write lock held.
func (p *Persistence) flush(name string, collection any) error {
	if p.root == "" {
		return nil
	}

	raw, err := json.MarshalIndent(collection, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	if err := os.WriteFile(filepath.Join(p.root, name), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error { return nil }

func (p *Persistence) Close(ctx context.Context) error { return nil }

// Workflow repository.

func (p *Persistence) Workflows(ctx context.Context, organizationID string) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0)

	for _, w := range p.workflows {
		if organizationID == "" || w.OrganizationID == organizationID {
			workflows = append(workflows, cloned(w))
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow, ok := p.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	return cloned(workflow), nil
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.workflows[workflow.ID] = cloned(workflow)

	return p.flush("workflows.json", p.workflows)
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workflows[id]; !ok {
		return persistence.ErrWorkflowNotFound
	}

	delete(p.workflows, id)

	return p.flush("workflows.json", p.workflows)
}

// Execution ledger.

func (p *Persistence) CreateExecution(ctx context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored := cloned(execution)
	if stored.NodeOutputs == nil {
		stored.NodeOutputs = make(map[string]models.NodeOutput)
	}

	p.executions[execution.ID] = stored

	return p.flush("executions.json", p.executions)
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	return cloned(execution), nil
}

func (p *Persistence) ListExecutions(ctx context.Context, workflowID string, limit int) ([]models.ExecutionSummary, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summaries := make([]models.ExecutionSummary, 0)

	for _, e := range p.executions {
		if e.WorkflowID == workflowID {
			summaries = append(summaries, e.Summary())
		}
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})

	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}

	return summaries, nil
}

func (p *Persistence) AppendNodeOutput(ctx context.Context, executionID, nodeID string, output models.NodeOutput) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	execution, ok := p.executions[executionID]
	if !ok {
		return persistence.ErrExecutionNotFound
	}

	if _, exists := execution.NodeOutputs[nodeID]; exists {
		return persistence.ErrNodeOutputExists
	}

	execution.NodeOutputs[nodeID] = output

	return p.flush("executions.json", p.executions)
}

func (p *Persistence) SetExecutionStatus(ctx context.Context, executionID string, status models.ExecutionStatus, failedNodeID, errMsg string, finishedAt *time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	execution, ok := p.executions[executionID]
	if !ok {
		return persistence.ErrExecutionNotFound
	}

	execution.Status = status
	execution.FailedNodeID = failedNodeID
	execution.Error = errMsg
	execution.FinishedAt = finishedAt

	return p.flush("executions.json", p.executions)
}

func (p *Persistence) RequestCancel(ctx context.Context, executionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	execution, ok := p.executions[executionID]
	if !ok {
		return persistence.ErrExecutionNotFound
	}

	execution.CancelRequested = true

	return p.flush("executions.json", p.executions)
}

func (p *Persistence) CancelRequested(ctx context.Context, executionID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.executions[executionID]
	if !ok {
		return false, persistence.ErrExecutionNotFound
	}

	return execution.CancelRequested, nil
}

// Approval repository.

func (p *Persistence) CreateApproval(ctx context.Context, approval *models.PendingApproval) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.approvals[approval.ID] = cloned(approval)

	return p.flush("approvals.json", p.approvals)
}

func (p *Persistence) ApprovalByID(ctx context.Context, id string) (*models.PendingApproval, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	approval, ok := p.approvals[id]
	if !ok {
		return nil, persistence.ErrApprovalNotFound
	}

	return cloned(approval), nil
}

func (p *Persistence) ListApprovals(ctx context.Context, organizationID string, status models.ApprovalStatus) ([]*models.PendingApproval, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	approvals := make([]*models.PendingApproval, 0)

	for _, a := range p.approvals {
		if a.OrganizationID != organizationID {
			continue
		}

		if status != "" && a.Status != status {
			continue
		}

		approvals = append(approvals, cloned(a))
	}

	sort.Slice(approvals, func(i, j int) bool {
		return approvals[i].CreatedAt.After(approvals[j].CreatedAt)
	})

	return approvals, nil
}

func (p *Persistence) UpdateApprovalStatus(ctx context.Context, id string, status models.ApprovalStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	approval, ok := p.approvals[id]
	if !ok {
		return persistence.ErrApprovalNotFound
	}

	approval.Status = status
	approval.UpdatedAt = time.Now().UTC()

	return p.flush("approvals.json", p.approvals)
}

// Schedule repository.

func (p *Persistence) UpsertSchedule(ctx context.Context, schedule *models.WorkflowSchedule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.schedules[schedule.WorkflowID]; ok {
		// Preserve cadence across reconciles.
		schedule.LastRunAt = existing.LastRunAt
		schedule.ID = existing.ID
		schedule.CreatedAt = existing.CreatedAt
	}

	p.schedules[schedule.WorkflowID] = cloned(schedule)

	return p.flush("schedules.json", p.schedules)
}

func (p *Persistence) ScheduleByWorkflowID(ctx context.Context, workflowID string) (*models.WorkflowSchedule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	schedule, ok := p.schedules[workflowID]
	if !ok {
		return nil, persistence.ErrScheduleNotFound
	}

	return cloned(schedule), nil
}

func (p *Persistence) DeleteScheduleByWorkflowID(ctx context.Context, workflowID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.schedules, workflowID)

	return p.flush("schedules.json", p.schedules)
}

func (p *Persistence) DueSchedules(ctx context.Context, now time.Time) ([]*models.WorkflowSchedule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	due := make([]*models.WorkflowSchedule, 0)

	for _, s := range p.schedules {
		if s.IsDue(now) {
			due = append(due, cloned(s))
		}
	}

	return due, nil
}

func (p *Persistence) SaveSchedule(ctx context.Context, schedule *models.WorkflowSchedule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.schedules[schedule.WorkflowID]; !ok {
		return persistence.ErrScheduleNotFound
	}

	p.schedules[schedule.WorkflowID] = cloned(schedule)

	return p.flush("schedules.json", p.schedules)
}

// cloned deep-copies a value through JSON so callers never share mutable
// state with the store.
func cloned[T any](v *T) *T {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("file persistence: unencodable value: %v", err))
	}

	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		panic(fmt.Sprintf("file persistence: undecodable value: %v", err))
	}

	return out
}
