package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/persistence"
)

// ScheduleRepository handles derived schedule rows, one per workflow.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

// Upsert writes the derived schedule for a workflow, preserving last_run_at
// across updates so edits to unrelated workflow fields never reset cadence.
func (r *ScheduleRepository) Upsert(ctx context.Context, schedule *models.WorkflowSchedule) error {
	query := `
		INSERT INTO schedules (
			id, workflow_id, organization_id, kind, interval_ms,
			cron_expression, next_due_at, last_run_at, enabled, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (workflow_id) DO UPDATE SET
			kind = EXCLUDED.kind
		  , interval_ms = EXCLUDED.interval_ms
		  , cron_expression = EXCLUDED.cron_expression
		  , next_due_at = EXCLUDED.next_due_at
		  , enabled = EXCLUDED.enabled
		  , updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.WorkflowID,
		schedule.OrganizationID,
		schedule.Kind,
		schedule.IntervalMS,
		schedule.CronExpression,
		nullTime(schedule.NextDueAt),
		nullTime(schedule.LastRunAt),
		schedule.Enabled,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert schedule for workflow %s: %w", schedule.WorkflowID, err)
	}

	return nil
}

const scheduleColumns = `
	id
  , workflow_id
  , organization_id
  , kind
  , interval_ms
  , cron_expression
  , next_due_at
  , last_run_at
  , enabled
  , created_at
  , updated_at
`

// GetByWorkflowID returns the schedule row for a workflow.
func (r *ScheduleRepository) GetByWorkflowID(ctx context.Context, workflowID string) (*models.WorkflowSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE workflow_id = $1`

	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, workflowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrScheduleNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get schedule for workflow %s: %w", workflowID, err)
	}

	return schedule, nil
}

// DeleteByWorkflowID removes the schedule row for a workflow. Deleting a
// missing row is not an error: reconciliation deletes idempotently.
func (r *ScheduleRepository) DeleteByWorkflowID(ctx context.Context, workflowID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete schedule for workflow %s: %w", workflowID, err)
	}

	return nil
}

// Due returns enabled schedules due at the given time.
func (r *ScheduleRepository) Due(ctx context.Context, now time.Time) ([]*models.WorkflowSchedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE enabled
		  AND (
			(kind = 'interval' AND (last_run_at IS NULL OR last_run_at + (interval_ms * INTERVAL '1 millisecond') <= $1))
			OR (kind = 'cron' AND next_due_at IS NOT NULL AND next_due_at <= $1)
		  )
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	schedules := make([]*models.WorkflowSchedule, 0)

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

// Save writes back an advanced schedule (last_run_at / next_due_at).
func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.WorkflowSchedule) error {
	query := `
		UPDATE schedules
		SET last_run_at = $2, next_due_at = $3, updated_at = $4
		WHERE workflow_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		schedule.WorkflowID,
		nullTime(schedule.LastRunAt),
		nullTime(schedule.NextDueAt),
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule for workflow %s: %w", schedule.WorkflowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check schedule update: %w", err)
	}

	if affected == 0 {
		return persistence.ErrScheduleNotFound
	}

	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func scanSchedule(row rowScanner) (*models.WorkflowSchedule, error) {
	var (
		schedule  models.WorkflowSchedule
		nextDueAt sql.NullTime
		lastRunAt sql.NullTime
	)

	err := row.Scan(
		&schedule.ID,
		&schedule.WorkflowID,
		&schedule.OrganizationID,
		&schedule.Kind,
		&schedule.IntervalMS,
		&schedule.CronExpression,
		&nextDueAt,
		&lastRunAt,
		&schedule.Enabled,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if nextDueAt.Valid {
		schedule.NextDueAt = &nextDueAt.Time
	}

	if lastRunAt.Valid {
		schedule.LastRunAt = &lastRunAt.Time
	}

	return &schedule, nil
}
