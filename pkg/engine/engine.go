// Package engine drives workflow executions: data-driven graph traversal,
// ledger bookkeeping, approval suspension and cooperative cancellation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/weftwork/weft/pkg/log"
	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/otelhelper"
	"github.com/weftwork/weft/pkg/persistence"
)

// Ledger is the slice of persistence the engine mutates: the execution
// ledger plus pending approvals.
type Ledger interface {
	persistence.ExecutionRepository
	persistence.ApprovalRepository
}

// Engine runs workflow executions. Each run mutates only its own execution
// row; the ledger is the single synchronization point between concurrent
// runs.
type Engine struct {
	ledger    Ledger
	evaluator *Evaluator
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewEngine creates an engine. tracer may be nil for untraced runs.
func NewEngine(ledger Ledger, evaluator *Evaluator, tracer trace.Tracer) *Engine {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("engine")
	}

	return &Engine{
		ledger:    ledger,
		evaluator: evaluator,
		tracer:    tracer,
		logger:    log.WithModule("engine"),
	}
}

// Execute creates an execution for the given definition snapshot and drives
// it until it completes, fails, suspends at an approval node or observes a
// cancellation request. The returned execution reflects the final ledger
// state for this entry.
func (e *Engine) Execute(ctx context.Context, workflow *models.Workflow, triggerType models.TriggerType, inputs map[string]any) (*models.Execution, error) {
	execution := &models.Execution{
		ID:             uuid.New().String(),
		WorkflowID:     workflow.ID,
		OrganizationID: workflow.OrganizationID,
		Status:         models.ExecutionStatusRunning,
		TriggerType:    triggerType,
		Inputs:         inputs,
		Snapshot:       workflow,
		NodeOutputs:    make(map[string]models.NodeOutput),
		StartedAt:      time.Now().UTC(),
	}

	if err := e.ledger.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.logger.Info("starting execution",
		"execution_id", execution.ID,
		"workflow_id", workflow.ID,
		"trigger_type", triggerType)

	if err := e.traverse(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

// Run drives a previously created execution from its persisted state. A
// pending execution transitions to running first; a running one (seen again
// after a crash or redelivery) continues from its recorded node outputs.
func (e *Engine) Run(ctx context.Context, execution *models.Execution) error {
	switch execution.Status {
	case models.ExecutionStatusPending:
		if err := e.ledger.SetExecutionStatus(ctx, execution.ID, models.ExecutionStatusRunning, "", "", nil); err != nil {
			return err
		}

		execution.Status = models.ExecutionStatusRunning
	case models.ExecutionStatusRunning:
	default:
		return fmt.Errorf("execution %s cannot be run in status %s", execution.ID, execution.Status)
	}

	return e.traverse(ctx, execution)
}

// ResumeAfterApproval resolves a pending approval and either re-enters the
// traversal past the gate (approved) or fails the run (rejected).
func (e *Engine) ResumeAfterApproval(ctx context.Context, approvalID string, decision models.ApprovalDecision) (*models.Execution, error) {
	approval, err := e.ledger.ApprovalByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	if approval.Status != models.ApprovalStatusPending {
		return nil, ErrApprovalResolved
	}

	execution, err := e.ledger.ExecutionByID(ctx, approval.ExecutionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusAwaitingApproval {
		return nil, ErrNotAwaitingApproval
	}

	status := models.ApprovalStatusApproved
	if decision == models.ApprovalDecisionRejected {
		status = models.ApprovalStatusRejected
	}

	if err := e.ledger.UpdateApprovalStatus(ctx, approvalID, status); err != nil {
		return nil, fmt.Errorf("failed to update approval: %w", err)
	}

	e.logger.Info("approval resolved",
		"approval_id", approvalID,
		"execution_id", execution.ID,
		"decision", decision)

	if decision == models.ApprovalDecisionRejected {
		now := time.Now().UTC()
		errMsg := fmt.Sprintf("approval %s was rejected", approvalID)

		if err := e.ledger.SetExecutionStatus(ctx, execution.ID, models.ExecutionStatusFailed, approval.NodeID, errMsg, &now); err != nil {
			return nil, err
		}

		execution.Status = models.ExecutionStatusFailed
		execution.FailedNodeID = approval.NodeID
		execution.Error = errMsg
		execution.FinishedAt = &now

		return execution, nil
	}

	node := execution.Snapshot.NodeByID(approval.NodeID)
	if node == nil {
		return nil, ErrNodeNotFound
	}

	// The approved gate passes its merged input through unchanged.
	resolved := resolvedOutputs(execution)
	passthrough := mergeInputs(execution.Snapshot, node, resolved)

	output := models.NodeOutput{Value: passthrough, FinishedAt: time.Now().UTC()}
	if err := e.ledger.AppendNodeOutput(ctx, execution.ID, node.ID, output); err != nil {
		return nil, fmt.Errorf("failed to record approval output: %w", err)
	}

	execution.NodeOutputs[node.ID] = output

	if err := e.ledger.SetExecutionStatus(ctx, execution.ID, models.ExecutionStatusRunning, "", "", nil); err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatusRunning

	if err := e.traverse(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

// RunSingleNode evaluates one node in isolation with a caller-supplied input.
// It never reads or writes the execution ledger: the engine has no execution
// record to attach anything to on this path.
func (e *Engine) RunSingleNode(ctx context.Context, workflow *models.Workflow, nodeID string, testInput any) (any, error) {
	node := workflow.NodeByID(nodeID)
	if node == nil {
		return nil, ErrNodeNotFound
	}

	if node.Type == models.NodeTypeApproval {
		return nil, ErrApprovalNodeDirect
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute_node",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	value, err := e.evaluator.Evaluate(ctx, node, testInput, nil)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return value, nil
}

// traverse drives the execution until no eligible node remains. It returns an
// error only for infrastructure faults; node failures, suspension and
// cancellation are recorded on the execution and return nil.
func (e *Engine) traverse(ctx context.Context, execution *models.Execution) error {
	workflow := execution.Snapshot

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(execution.TriggerType)),
	)
	defer span.End()

	resolved := resolvedOutputs(execution)

	for {
		cancelled, err := e.cancelRequested(ctx, execution.ID)
		if err != nil {
			return err
		}

		if cancelled {
			return e.markCancelled(ctx, execution)
		}

		node := nextEligible(workflow, resolved)
		if node == nil {
			break
		}

		if node.Type == models.NodeTypeApproval {
			return e.suspendForApproval(ctx, execution, node, resolved)
		}

		if err := e.runNode(ctx, execution, node, resolved); err != nil {
			return err
		}

		if execution.Status == models.ExecutionStatusFailed {
			otelhelper.SetError(span, fmt.Errorf("node %s failed: %s", execution.FailedNodeID, execution.Error),
				attribute.String(otelhelper.NodeIDKey, execution.FailedNodeID))

			// The failure is recorded on the execution; traversal just stops.
			return nil
		}
	}

	now := time.Now().UTC()
	if err := e.ledger.SetExecutionStatus(ctx, execution.ID, models.ExecutionStatusCompleted, "", "", &now); err != nil {
		return err
	}

	execution.Status = models.ExecutionStatusCompleted
	execution.FinishedAt = &now

	e.logger.Info("execution completed",
		"execution_id", execution.ID,
		"nodes", len(execution.NodeOutputs))

	return nil
}

// runNode evaluates one node and records its outcome. A node failure is
// written to the ledger and marks the execution failed; the returned error is
// reserved for infrastructure faults.
func (e *Engine) runNode(ctx context.Context, execution *models.Execution, node *models.Node, resolved map[string]any) error {
	workflow := execution.Snapshot
	input := mergeInputs(workflow, node, resolved)

	nodeCtx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	started := time.Now()
	value, err := e.evaluator.Evaluate(nodeCtx, node, input, execution.Inputs)
	duration := time.Since(started)

	output := models.NodeOutput{
		DurationMS: duration.Milliseconds(),
		FinishedAt: time.Now().UTC(),
	}

	if err != nil {
		otelhelper.SetError(span, err)

		output.Error = err.Error()
		if appendErr := e.ledger.AppendNodeOutput(ctx, execution.ID, node.ID, output); appendErr != nil {
			return appendErr
		}

		execution.NodeOutputs[node.ID] = output

		now := time.Now().UTC()
		if statusErr := e.ledger.SetExecutionStatus(ctx, execution.ID, models.ExecutionStatusFailed, node.ID, err.Error(), &now); statusErr != nil {
			return statusErr
		}

		execution.Status = models.ExecutionStatusFailed
		execution.FailedNodeID = node.ID
		execution.Error = err.Error()
		execution.FinishedAt = &now

		e.logger.Warn("node failed",
			"execution_id", execution.ID,
			"node_id", node.ID,
			"node_type", node.Type,
			"error", err)

		return nil
	}

	output.Value = value
	if err := e.ledger.AppendNodeOutput(ctx, execution.ID, node.ID, output); err != nil {
		return err
	}

	execution.NodeOutputs[node.ID] = output
	resolved[node.ID] = value

	e.logger.Debug("node resolved",
		"execution_id", execution.ID,
		"node_id", node.ID,
		"node_type", node.Type,
		"duration", duration)

	return nil
}

func (e *Engine) suspendForApproval(ctx context.Context, execution *models.Execution, node *models.Node, resolved map[string]any) error {
	var config models.ApprovalConfig
	if err := models.DecodeConfig(node.Config, &config); err != nil {
		return err
	}

	now := time.Now().UTC()
	approval := &models.PendingApproval{
		ID:             uuid.New().String(),
		OrganizationID: execution.OrganizationID,
		WorkflowID:     execution.WorkflowID,
		ExecutionID:    execution.ID,
		NodeID:         node.ID,
		AssignedUserID: config.AssignedUserID,
		Status:         models.ApprovalStatusPending,
		InputPreview:   mergeInputs(execution.Snapshot, node, resolved),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.ledger.CreateApproval(ctx, approval); err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}

	if err := e.ledger.SetExecutionStatus(ctx, execution.ID, models.ExecutionStatusAwaitingApproval, "", "", nil); err != nil {
		return err
	}

	execution.Status = models.ExecutionStatusAwaitingApproval

	e.logger.Info("execution suspended for approval",
		"execution_id", execution.ID,
		"approval_id", approval.ID,
		"node_id", node.ID,
		"assigned_user_id", config.AssignedUserID)

	return nil
}

func (e *Engine) markCancelled(ctx context.Context, execution *models.Execution) error {
	// The run context may already be cancelled; the bookkeeping write still
	// has to land.
	ctx = context.WithoutCancel(ctx)

	now := time.Now().UTC()
	if err := e.ledger.SetExecutionStatus(ctx, execution.ID, models.ExecutionStatusCancelled, "", "", &now); err != nil {
		return err
	}

	execution.Status = models.ExecutionStatusCancelled
	execution.FinishedAt = &now

	e.logger.Info("execution cancelled",
		"execution_id", execution.ID,
		"resolved_nodes", len(execution.NodeOutputs))

	return nil
}

// cancelRequested checks both the run context and the ledger's advisory flag.
func (e *Engine) cancelRequested(ctx context.Context, executionID string) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}

	return e.ledger.CancelRequested(ctx, executionID)
}

// nextEligible returns a node whose incoming edges are all resolved and that
// has not run yet, preferring non-approval nodes so a run makes every bit of
// progress it can before suspending.
func nextEligible(workflow *models.Workflow, resolved map[string]any) *models.Node {
	var pendingApproval *models.Node

	for _, node := range workflow.Nodes {
		if _, done := resolved[node.ID]; done {
			continue
		}

		if !eligible(workflow, node, resolved) {
			continue
		}

		if node.Type == models.NodeTypeApproval {
			if pendingApproval == nil {
				pendingApproval = node
			}

			continue
		}

		return node
	}

	return pendingApproval
}

func eligible(workflow *models.Workflow, node *models.Node, resolved map[string]any) bool {
	incoming := workflow.Incoming(node.ID)

	// Only triggers start without inputs; an orphan of another type is
	// unreachable and stays unevaluated.
	if len(incoming) == 0 {
		return node.Type == models.NodeTypeTrigger
	}

	for _, conn := range incoming {
		if _, ok := resolved[conn.FromNodeID]; !ok {
			return false
		}
	}

	return true
}

// resolvedOutputs rebuilds the in-memory resolved set from the persisted
// ledger entries, which is what makes resumption after suspension work.
func resolvedOutputs(execution *models.Execution) map[string]any {
	resolved := make(map[string]any, len(execution.NodeOutputs))

	for nodeID, output := range execution.NodeOutputs {
		if output.Error == "" {
			resolved[nodeID] = output.Value
		}
	}

	return resolved
}
