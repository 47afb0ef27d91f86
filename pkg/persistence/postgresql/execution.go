package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/persistence"
)

// ExecutionRepository is the PostgreSQL execution ledger.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create inserts a new execution record with its definition snapshot.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	inputs, err := json.Marshal(execution.Inputs)
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}

	snapshot, err := json.Marshal(execution.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	outputs, err := json.Marshal(execution.NodeOutputs)
	if err != nil {
		return fmt.Errorf("failed to encode node outputs: %w", err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, organization_id, status, trigger_type,
			inputs, snapshot, node_outputs, started_at, cancel_requested
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.OrganizationID,
		execution.Status,
		execution.TriggerType,
		inputs,
		snapshot,
		outputs,
		execution.StartedAt,
		execution.CancelRequested,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", execution.ID, err)
	}

	return nil
}

const executionColumns = `
	id
  , workflow_id
  , organization_id
  , status
  , trigger_type
  , inputs
  , snapshot
  , node_outputs
  , started_at
  , finished_at
  , cancel_requested
  , failed_node_id
  , error
`

// GetByID returns one execution with its full node output map.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	var (
		execution   models.Execution
		inputsRaw   []byte
		snapshotRaw []byte
		outputsRaw  []byte
		finishedAt  sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.OrganizationID,
		&execution.Status,
		&execution.TriggerType,
		&inputsRaw,
		&snapshotRaw,
		&outputsRaw,
		&execution.StartedAt,
		&finishedAt,
		&execution.CancelRequested,
		&execution.FailedNodeID,
		&execution.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrExecutionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	if len(inputsRaw) > 0 {
		if err := json.Unmarshal(inputsRaw, &execution.Inputs); err != nil {
			return nil, fmt.Errorf("failed to decode inputs: %w", err)
		}
	}

	if err := json.Unmarshal(snapshotRaw, &execution.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if err := json.Unmarshal(outputsRaw, &execution.NodeOutputs); err != nil {
		return nil, fmt.Errorf("failed to decode node outputs: %w", err)
	}

	if finishedAt.Valid {
		execution.FinishedAt = &finishedAt.Time
	}

	return &execution, nil
}

// List returns execution summaries for a workflow, newest first.
func (r *ExecutionRepository) List(ctx context.Context, workflowID string, limit int) ([]models.ExecutionSummary, error) {
	query := `
		SELECT id, workflow_id, status, trigger_type, started_at, finished_at, failed_node_id, error
		FROM executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	summaries := make([]models.ExecutionSummary, 0)

	for rows.Next() {
		var (
			summary    models.ExecutionSummary
			finishedAt sql.NullTime
		)

		err := rows.Scan(
			&summary.ID,
			&summary.WorkflowID,
			&summary.Status,
			&summary.TriggerType,
			&summary.StartedAt,
			&finishedAt,
			&summary.FailedNodeID,
			&summary.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution summary: %w", err)
		}

		if finishedAt.Valid {
			summary.FinishedAt = &finishedAt.Time
		}

		summaries = append(summaries, summary)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return summaries, nil
}

// AppendNodeOutput merges one node's output into the jsonb map. The
// `NOT node_outputs ? key` guard keeps outputs monotonic: a resolved node is
// never rewritten.
func (r *ExecutionRepository) AppendNodeOutput(ctx context.Context, executionID, nodeID string, output models.NodeOutput) error {
	payload, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to encode node output: %w", err)
	}

	query := `
		UPDATE executions
		SET node_outputs = node_outputs || jsonb_build_object($2::text, $3::jsonb)
		WHERE id = $1 AND NOT node_outputs ? $2
	`

	result, err := r.db.ExecContext(ctx, query, executionID, nodeID, payload)
	if err != nil {
		return fmt.Errorf("failed to append node output: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check append result: %w", err)
	}

	if affected == 0 {
		// Distinguish a missing execution from a duplicate write.
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1)`, executionID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check execution existence: %w", err)
		}

		if !exists {
			return persistence.ErrExecutionNotFound
		}

		return persistence.ErrNodeOutputExists
	}

	return nil
}

// SetStatus transitions the execution state.
func (r *ExecutionRepository) SetStatus(ctx context.Context, executionID string, status models.ExecutionStatus, failedNodeID, errMsg string, finishedAt *time.Time) error {
	query := `
		UPDATE executions
		SET status = $2, failed_node_id = $3, error = $4, finished_at = $5
		WHERE id = $1
	`

	var finished sql.NullTime
	if finishedAt != nil {
		finished = sql.NullTime{Time: *finishedAt, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query, executionID, status, failedNodeID, errMsg, finished)
	if err != nil {
		return fmt.Errorf("failed to set execution status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check status update: %w", err)
	}

	if affected == 0 {
		return persistence.ErrExecutionNotFound
	}

	return nil
}

// RequestCancel sets the advisory cancellation flag.
func (r *ExecutionRepository) RequestCancel(ctx context.Context, executionID string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE executions SET cancel_requested = TRUE WHERE id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cancel update: %w", err)
	}

	if affected == 0 {
		return persistence.ErrExecutionNotFound
	}

	return nil
}

// CancelRequested reads the advisory cancellation flag.
func (r *ExecutionRepository) CancelRequested(ctx context.Context, executionID string) (bool, error) {
	var requested bool

	err := r.db.QueryRowContext(ctx, `SELECT cancel_requested FROM executions WHERE id = $1`, executionID).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, persistence.ErrExecutionNotFound
	}

	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}

	return requested, nil
}
