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

// ApprovalRepository handles pending approval rows.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewApprovalRepository creates a new approval repository.
func NewApprovalRepository(db *sql.DB, logger *slog.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

// Create inserts a new pending approval.
func (r *ApprovalRepository) Create(ctx context.Context, approval *models.PendingApproval) error {
	preview, err := json.Marshal(approval.InputPreview)
	if err != nil {
		return fmt.Errorf("failed to encode input preview: %w", err)
	}

	query := `
		INSERT INTO approvals (
			id, organization_id, workflow_id, execution_id, node_id,
			assigned_user_id, status, input_preview, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		approval.ID,
		approval.OrganizationID,
		approval.WorkflowID,
		approval.ExecutionID,
		approval.NodeID,
		approval.AssignedUserID,
		approval.Status,
		preview,
		approval.CreatedAt,
		approval.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create approval %s: %w", approval.ID, err)
	}

	return nil
}

const approvalColumns = `
	id
  , organization_id
  , workflow_id
  , execution_id
  , node_id
  , assigned_user_id
  , status
  , input_preview
  , created_at
  , updated_at
`

// GetByID returns one pending approval.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.PendingApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`

	approval, err := scanApproval(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrApprovalNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get approval %s: %w", id, err)
	}

	return approval, nil
}

// List returns approvals for an organization, optionally filtered by status.
func (r *ApprovalRepository) List(ctx context.Context, organizationID string, status models.ApprovalStatus) ([]*models.PendingApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE organization_id = $1`
	args := []any{organizationID}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}

	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	approvals := make([]*models.PendingApproval, 0)

	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		approvals = append(approvals, approval)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return approvals, nil
}

// UpdateStatus resolves a pending approval.
func (r *ApprovalRepository) UpdateStatus(ctx context.Context, id string, status models.ApprovalStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE approvals SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update approval %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check approval update: %w", err)
	}

	if affected == 0 {
		return persistence.ErrApprovalNotFound
	}

	return nil
}

func scanApproval(row rowScanner) (*models.PendingApproval, error) {
	var (
		approval   models.PendingApproval
		previewRaw []byte
	)

	err := row.Scan(
		&approval.ID,
		&approval.OrganizationID,
		&approval.WorkflowID,
		&approval.ExecutionID,
		&approval.NodeID,
		&approval.AssignedUserID,
		&approval.Status,
		&previewRaw,
		&approval.CreatedAt,
		&approval.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(previewRaw) > 0 {
		if err := json.Unmarshal(previewRaw, &approval.InputPreview); err != nil {
			return nil, fmt.Errorf("failed to decode input preview: %w", err)
		}
	}

	return &approval, nil
}
