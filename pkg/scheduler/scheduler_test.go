package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/persistence"
	"github.com/weftwork/weft/pkg/persistence/file"
)

type recordingDispatcher struct {
	dispatched []string
	err        error
}

func (d *recordingDispatcher) DispatchScheduled(ctx context.Context, schedule *models.WorkflowSchedule) error {
	if d.err != nil {
		return d.err
	}

	d.dispatched = append(d.dispatched, schedule.WorkflowID)

	return nil
}

func scheduledWorkflow(id string, intervalValue int64, unit string) *models.Workflow {
	return &models.Workflow{
		ID:             id,
		OrganizationID: "org-1",
		Name:           "scheduled workflow",
		Nodes: []*models.Node{
			{
				ID:   "t",
				Type: models.NodeTypeTrigger,
				Config: map[string]any{
					"schedule": map[string]any{
						"enabled":        true,
						"interval_value": intervalValue,
						"interval_unit":  unit,
					},
				},
			},
			{ID: "o", Type: models.NodeTypeOutput},
		},
		Connections: []*models.Connection{
			{ID: "t-o", FromNodeID: "t", ToNodeID: "o"},
		},
	}
}

func newTestScheduler(t *testing.T, dispatcher *recordingDispatcher) (*Scheduler, persistence.ScheduleRepository) {
	t.Helper()

	store, err := file.NewPersistence("")
	require.NoError(t, err)

	return NewScheduler(store, dispatcher), store
}

func TestReconcileCreatesSchedule(t *testing.T) {
	scheduler, store := newTestScheduler(t, &recordingDispatcher{})

	require.NoError(t, scheduler.Reconcile(context.Background(), scheduledWorkflow("wf-1", 5, "m")))

	schedule, err := store.ScheduleByWorkflowID(context.Background(), "wf-1")
	require.NoError(t, err)

	assert.Equal(t, models.ScheduleKindInterval, schedule.Kind)
	assert.Equal(t, int64(300_000), schedule.IntervalMS)
	assert.True(t, schedule.Enabled)
	assert.Nil(t, schedule.LastRunAt)
}

func TestReconcilePreservesLastRunAt(t *testing.T) {
	scheduler, store := newTestScheduler(t, &recordingDispatcher{})
	ctx := context.Background()

	require.NoError(t, scheduler.Reconcile(ctx, scheduledWorkflow("wf-1", 5, "m")))

	// Simulate a run having happened.
	schedule, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, schedule.Advance(time.Now().UTC()))
	require.NoError(t, store.SaveSchedule(ctx, schedule))

	// Re-saving the workflow with a different interval keeps the cadence
	// anchor.
	require.NoError(t, scheduler.Reconcile(ctx, scheduledWorkflow("wf-1", 10, "m")))

	updated, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)

	assert.Equal(t, int64(600_000), updated.IntervalMS)
	assert.NotNil(t, updated.LastRunAt)
}

func TestReconcileDeletesWhenScheduleRemoved(t *testing.T) {
	scheduler, store := newTestScheduler(t, &recordingDispatcher{})
	ctx := context.Background()

	require.NoError(t, scheduler.Reconcile(ctx, scheduledWorkflow("wf-1", 5, "m")))

	unscheduled := scheduledWorkflow("wf-1", 5, "m")
	unscheduled.Nodes[0].Config = nil

	require.NoError(t, scheduler.Reconcile(ctx, unscheduled))

	_, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	assert.ErrorIs(t, err, persistence.ErrScheduleNotFound)
}

func TestReconcileRejectsSubMinuteInterval(t *testing.T) {
	scheduler, _ := newTestScheduler(t, &recordingDispatcher{})

	workflow := scheduledWorkflow("wf-1", 5, "m")
	workflow.Nodes[0].Config = map[string]any{
		"schedule": map[string]any{
			"enabled":        true,
			"interval_value": 1,
			"interval_unit":  "s",
		},
	}

	err := scheduler.Reconcile(context.Background(), workflow)
	assert.Error(t, err)
}

func TestTickDispatchesDueSchedulesIndependently(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	scheduler, store := newTestScheduler(t, dispatcher)
	ctx := context.Background()

	require.NoError(t, scheduler.Reconcile(ctx, scheduledWorkflow("wf-1", 5, "m")))
	require.NoError(t, scheduler.Reconcile(ctx, scheduledWorkflow("wf-2", 1, "h")))

	scheduler.Tick(ctx)

	assert.ElementsMatch(t, []string{"wf-1", "wf-2"}, dispatcher.dispatched)

	// Both advanced; an immediate second tick dispatches nothing.
	dispatcher.dispatched = nil
	scheduler.Tick(ctx)
	assert.Empty(t, dispatcher.dispatched)

	schedule, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	assert.NotNil(t, schedule.LastRunAt)
}

func TestTickDoesNotAdvanceOnDispatchFailure(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("bus down")}
	scheduler, store := newTestScheduler(t, dispatcher)
	ctx := context.Background()

	require.NoError(t, scheduler.Reconcile(ctx, scheduledWorkflow("wf-1", 5, "m")))

	scheduler.Tick(ctx)

	schedule, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Nil(t, schedule.LastRunAt)

	// Dispatch recovers; the next tick retries the same schedule.
	dispatcher.err = nil
	scheduler.Tick(ctx)
	assert.Equal(t, []string{"wf-1"}, dispatcher.dispatched)
}

func TestTickAdvancesCronSchedules(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	scheduler, store := newTestScheduler(t, dispatcher)
	ctx := context.Background()

	workflow := scheduledWorkflow("wf-1", 0, "")
	workflow.Nodes[0].Config = map[string]any{
		"schedule": map[string]any{
			"enabled":         true,
			"cron_expression": "*/5 * * * *",
		},
	}

	require.NoError(t, scheduler.Reconcile(ctx, workflow))

	// Force the schedule due.
	schedule, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	schedule.NextDueAt = &past
	require.NoError(t, store.SaveSchedule(ctx, schedule))

	scheduler.Tick(ctx)

	assert.Equal(t, []string{"wf-1"}, dispatcher.dispatched)

	advanced, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, advanced.NextDueAt)
	assert.True(t, advanced.NextDueAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestStartStopLifecycle(t *testing.T) {
	scheduler, _ := newTestScheduler(t, &recordingDispatcher{})
	ctx := context.Background()

	require.NoError(t, scheduler.Start(ctx))
	require.NoError(t, scheduler.Start(ctx)) // idempotent
	require.NoError(t, scheduler.Stop(ctx))
	require.NoError(t, scheduler.Stop(ctx)) // idempotent

	// A restart builds a fresh done channel, so stopping again is safe.
	require.NoError(t, scheduler.Start(ctx))
	require.NoError(t, scheduler.Stop(ctx))
}

func TestStopSignalReachesBusyPoller(t *testing.T) {
	scheduler, _ := newTestScheduler(t, &recordingDispatcher{})
	ctx := context.Background()

	require.NoError(t, scheduler.Start(ctx))

	done := scheduler.done
	require.NoError(t, scheduler.Stop(ctx))

	// The shutdown signal must not depend on the poller being parked on the
	// channel at the instant Stop runs: it stays observable afterwards, and
	// more than once.
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("stop signal was dropped")
		}
	}
}
