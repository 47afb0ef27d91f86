// Package scheduler keeps derived schedule rows in sync with workflow
// definitions and fires due schedules on a fixed tick.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftwork/weft/pkg/log"
	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/persistence"
)

// tickInterval is the wall-clock cadence of the due-schedule scan,
// independent of any individual schedule's interval.
const tickInterval = 60 * time.Second

// Dispatcher starts a scheduled run for a due schedule. Dispatch is
// fire-and-forget relative to the tick: success means the run was started,
// not that it completed.
type Dispatcher interface {
	DispatchScheduled(ctx context.Context, schedule *models.WorkflowSchedule) error
}

// Scheduler is the centralized schedule orchestrator: one poller scans all
// due schedules per tick regardless of their individual cadences.
type Scheduler struct {
	persistence persistence.ScheduleRepository
	dispatcher  Dispatcher
	logger      *slog.Logger

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex

	now func() time.Time
}

// NewScheduler creates a scheduler over the given schedule store and
// dispatcher.
func NewScheduler(store persistence.ScheduleRepository, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		persistence: store,
		dispatcher:  dispatcher,
		logger:      log.WithModule("scheduler"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile recomputes the schedule row for a workflow from its trigger node
// config. Called on every workflow save. A definition without an enabled
// schedule deletes any existing row; otherwise the row is upserted with
// last_run_at preserved so unrelated edits never reset cadence.
func (s *Scheduler) Reconcile(ctx context.Context, workflow *models.Workflow) error {
	schedule, err := models.ScheduleFromWorkflow(workflow)
	if err != nil {
		return err
	}

	if schedule == nil {
		s.logger.Debug("workflow declares no schedule, deleting any existing row",
			"workflow_id", workflow.ID)

		return s.persistence.DeleteScheduleByWorkflowID(ctx, workflow.ID)
	}

	now := s.now()
	schedule.ID = uuid.New().String()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	if err := s.persistence.UpsertSchedule(ctx, schedule); err != nil {
		return err
	}

	s.logger.Info("schedule reconciled",
		"workflow_id", workflow.ID,
		"kind", schedule.Kind,
		"interval_ms", schedule.IntervalMS,
		"cron_expression", schedule.CronExpression)

	return nil
}

// Start begins the tick loop. Starting twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info("starting schedule poller", "tick", tickInterval)

	s.ticker = time.NewTicker(tickInterval)
	s.done = make(chan bool)
	s.started = true

	go s.poll(ctx)

	return nil
}

// Stop shuts down the tick loop. The done channel is closed rather than sent
// on, so the poller sees the signal even when it is mid-tick at the time.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("stopping schedule poller")

	if s.ticker != nil {
		s.ticker.Stop()
	}

	close(s.done)

	s.started = false

	return nil
}

func (s *Scheduler) poll(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick scans all due schedules once and dispatches each independently: a
// failing dispatch is logged and left unadvanced so the next tick retries,
// and never blocks the other schedules.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	due, err := s.persistence.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("failed to query due schedules", "error", err)

		return
	}

	if len(due) > 0 {
		s.logger.Info("processing due schedules", "count", len(due))
	}

	for _, schedule := range due {
		if err := s.dispatcher.DispatchScheduled(ctx, schedule); err != nil {
			s.logger.Error("failed to dispatch scheduled run",
				"workflow_id", schedule.WorkflowID,
				"error", err)

			continue
		}

		if err := schedule.Advance(now); err != nil {
			s.logger.Error("failed to advance schedule",
				"workflow_id", schedule.WorkflowID,
				"error", err)

			continue
		}

		if err := s.persistence.SaveSchedule(ctx, schedule); err != nil {
			s.logger.Error("failed to save advanced schedule",
				"workflow_id", schedule.WorkflowID,
				"error", err)
		}
	}
}
