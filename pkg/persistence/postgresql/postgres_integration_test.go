//go:build integration
// +build integration

package postgresql

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/persistence"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

func setupTestDB(t *testing.T) (*Persistence, context.Context) {
	t.Helper()

	ctx := context.Background()

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error
		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("weft_test"),
			postgres.WithUsername("weft"),
			postgres.WithPassword("weft"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	cleanupDB(t, databaseURL)

	return store, ctx
}

func cleanupDB(t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer db.Close()

	_, err = db.ExecContext(context.Background(),
		"TRUNCATE TABLE workflows, executions, approvals, schedules")
	require.NoError(t, err)
}

func sampleWorkflow(id string) *models.Workflow {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return &models.Workflow{
		ID:             id,
		OrganizationID: "org-1",
		Name:           "sample workflow",
		Nodes: []*models.Node{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "o", Type: models.NodeTypeOutput},
		},
		Connections: []*models.Connection{
			{ID: "c1", FromNodeID: "t", ToNodeID: "o"},
		},
		Tags:      []string{"sample"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestWorkflowRoundTrip(t *testing.T) {
	store, ctx := setupTestDB(t)

	workflow := sampleWorkflow("wf-1")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	fetched, err := store.WorkflowByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, fetched.Name)
	assert.Len(t, fetched.Nodes, 2)
	assert.Len(t, fetched.Connections, 1)
	assert.Equal(t, []string{"sample"}, fetched.Tags)

	listed, err := store.Workflows(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	// Saving again with the same id replaces the row.
	workflow.Name = "renamed workflow"
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	fetched, err = store.WorkflowByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed workflow", fetched.Name)

	require.NoError(t, store.DeleteWorkflow(ctx, "wf-1"))

	_, err = store.WorkflowByID(ctx, "wf-1")
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestExecutionLedger(t *testing.T) {
	store, ctx := setupTestDB(t)

	workflow := sampleWorkflow("wf-2")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	execution := &models.Execution{
		ID:             "exec-1",
		WorkflowID:     "wf-2",
		OrganizationID: "org-1",
		Status:         models.ExecutionStatusPending,
		TriggerType:    models.TriggerTypeManual,
		Snapshot:       workflow,
		NodeOutputs:    map[string]models.NodeOutput{},
		StartedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.CreateExecution(ctx, execution))

	require.NoError(t, store.SetExecutionStatus(ctx, "exec-1",
		models.ExecutionStatusRunning, "", "", nil))

	require.NoError(t, store.AppendNodeOutput(ctx, "exec-1", "t",
		models.NodeOutput{Value: map[string]any{}, FinishedAt: time.Now().UTC()}))
	require.NoError(t, store.AppendNodeOutput(ctx, "exec-1", "o",
		models.NodeOutput{Value: map[string]any{"x": 1}, FinishedAt: time.Now().UTC()}))

	finishedAt := time.Now().UTC()
	require.NoError(t, store.SetExecutionStatus(ctx, "exec-1",
		models.ExecutionStatusCompleted, "", "", &finishedAt))

	fetched, err := store.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, fetched.Status)
	assert.Len(t, fetched.NodeOutputs, 2)
	assert.NotNil(t, fetched.FinishedAt)
	require.NotNil(t, fetched.Snapshot)
	assert.Equal(t, "wf-2", fetched.Snapshot.ID)

	summaries, err := store.ListExecutions(ctx, "wf-2", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, models.ExecutionStatusCompleted, summaries[0].Status)

	_, err = store.ExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestCancellationFlag(t *testing.T) {
	store, ctx := setupTestDB(t)

	workflow := sampleWorkflow("wf-3")
	require.NoError(t, store.SaveWorkflow(ctx, workflow))

	execution := &models.Execution{
		ID:             "exec-2",
		WorkflowID:     "wf-3",
		OrganizationID: "org-1",
		Status:         models.ExecutionStatusRunning,
		TriggerType:    models.TriggerTypeManual,
		Snapshot:       workflow,
		NodeOutputs:    map[string]models.NodeOutput{},
		StartedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.CreateExecution(ctx, execution))

	requested, err := store.CancelRequested(ctx, "exec-2")
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, store.RequestCancel(ctx, "exec-2"))

	requested, err = store.CancelRequested(ctx, "exec-2")
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestApprovalLifecycle(t *testing.T) {
	store, ctx := setupTestDB(t)

	approval := &models.PendingApproval{
		ID:             "appr-1",
		OrganizationID: "org-1",
		WorkflowID:     "wf-4",
		ExecutionID:    "exec-3",
		NodeID:         "gate",
		AssignedUserID: "user-1",
		Status:         models.ApprovalStatusPending,
		InputPreview:   map[string]any{"amount": 900},
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.CreateApproval(ctx, approval))

	pending, err := store.ListApprovals(ctx, "org-1", models.ApprovalStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "gate", pending[0].NodeID)

	require.NoError(t, store.UpdateApprovalStatus(ctx, "appr-1", models.ApprovalStatusApproved))

	fetched, err := store.ApprovalByID(ctx, "appr-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusApproved, fetched.Status)

	pending, err = store.ListApprovals(ctx, "org-1", models.ApprovalStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestScheduleRows(t *testing.T) {
	store, ctx := setupTestDB(t)

	schedule := &models.WorkflowSchedule{
		ID:             "sch-1",
		WorkflowID:     "wf-5",
		OrganizationID: "org-1",
		Kind:           models.ScheduleKindInterval,
		IntervalMS:     300_000,
		Enabled:        true,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.UpsertSchedule(ctx, schedule))

	// An interval schedule with no previous run is immediately due.
	due, err := store.DueSchedules(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, due[0].Advance(time.Now().UTC()))
	require.NoError(t, store.SaveSchedule(ctx, due[0]))

	due, err = store.DueSchedules(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, due)

	// Upserting with a new interval keeps the last run time.
	schedule.IntervalMS = 600_000
	require.NoError(t, store.UpsertSchedule(ctx, schedule))

	fetched, err := store.ScheduleByWorkflowID(ctx, "wf-5")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), fetched.IntervalMS)
	assert.NotNil(t, fetched.LastRunAt)

	require.NoError(t, store.DeleteScheduleByWorkflowID(ctx, "wf-5"))

	_, err = store.ScheduleByWorkflowID(ctx, "wf-5")
	assert.ErrorIs(t, err, persistence.ErrScheduleNotFound)
}
