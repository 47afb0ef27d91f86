package models

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// MinIntervalMS is the schedule interval floor. Sub-minute intervals are
// rejected at save time, not rounded up.
const MinIntervalMS int64 = 60_000

// ScheduleKind distinguishes fixed-interval schedules from cron schedules.
type ScheduleKind string

const (
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindCron     ScheduleKind = "cron"
)

// WorkflowSchedule is the derived schedule row for one workflow. It is
// recomputed from the workflow's trigger node config on every save and never
// hand-edited. One row exists per workflow.
type WorkflowSchedule struct {
	ID             string       `json:"id"`
	WorkflowID     string       `json:"workflow_id"`
	OrganizationID string       `json:"organization_id"`
	Kind           ScheduleKind `json:"kind"`
	IntervalMS     int64        `json:"interval_ms,omitempty"`
	CronExpression string       `json:"cron_expression,omitempty"`
	NextDueAt      *time.Time   `json:"next_due_at,omitempty"`
	LastRunAt      *time.Time   `json:"last_run_at,omitempty"`
	Enabled        bool         `json:"enabled"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// cronParser accepts the standard 5-field cron format.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// IsDue reports whether the schedule should fire at the given time. An
// interval schedule with no previous run is immediately due.
func (s *WorkflowSchedule) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}

	switch s.Kind {
	case ScheduleKindInterval:
		if s.LastRunAt == nil {
			return true
		}

		return !now.Before(s.LastRunAt.Add(time.Duration(s.IntervalMS) * time.Millisecond))
	case ScheduleKindCron:
		return s.NextDueAt != nil && !s.NextDueAt.After(now)
	}

	return false
}

// Advance records a successful dispatch at the given time: interval
// schedules remember the run time, cron schedules precompute the next due
// time. Failed dispatches must not advance, so the next tick retries.
func (s *WorkflowSchedule) Advance(now time.Time) error {
	s.UpdatedAt = now

	switch s.Kind {
	case ScheduleKindInterval:
		at := now
		s.LastRunAt = &at

		return nil
	case ScheduleKindCron:
		spec, err := cronParser.Parse(s.CronExpression)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}

		next := spec.Next(now)
		s.NextDueAt = &next
		at := now
		s.LastRunAt = &at

		return nil
	}

	return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
}

// intervalUnitMS maps declared interval units to milliseconds.
var intervalUnitMS = map[string]int64{
	"m": 60_000,
	"h": 3_600_000,
	"d": 86_400_000,
}

// ScheduleFromConfig derives the schedule parameters from a trigger node's
// declarative schedule config. A nil return with nil error means the config
// declares no (or a disabled) schedule and any existing row must be deleted.
func ScheduleFromConfig(cfg *ScheduleConfig) (*WorkflowSchedule, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	if cfg.CronExpression != "" {
		spec, err := cronParser.Parse(cfg.CronExpression)
		if err != nil {
			return nil, fmt.Errorf("%w: bad cron expression %q: %v", ErrInvalidSchedule, cfg.CronExpression, err)
		}

		next := spec.Next(time.Now().UTC())

		return &WorkflowSchedule{
			Kind:           ScheduleKindCron,
			CronExpression: cfg.CronExpression,
			NextDueAt:      &next,
			Enabled:        true,
		}, nil
	}

	unit, ok := intervalUnitMS[cfg.IntervalUnit]
	if !ok {
		return nil, fmt.Errorf("%w: unknown interval unit %q", ErrInvalidSchedule, cfg.IntervalUnit)
	}

	if cfg.IntervalValue <= 0 {
		return nil, fmt.Errorf("%w: interval value must be positive", ErrInvalidSchedule)
	}

	intervalMS := cfg.IntervalValue * unit
	if intervalMS < MinIntervalMS {
		return nil, ErrIntervalTooShort
	}

	return &WorkflowSchedule{
		Kind:       ScheduleKindInterval,
		IntervalMS: intervalMS,
		Enabled:    true,
	}, nil
}

// ScheduleFromWorkflow derives the schedule row for a workflow from its
// trigger node, carrying workflow identity. Returns nil when the workflow
// declares no enabled schedule.
func ScheduleFromWorkflow(workflow *Workflow) (*WorkflowSchedule, error) {
	trigger := workflow.TriggerNode()
	if trigger == nil {
		return nil, nil
	}

	var cfg TriggerConfig
	if err := DecodeConfig(trigger.Config, &cfg); err != nil {
		return nil, err
	}

	schedule, err := ScheduleFromConfig(cfg.Schedule)
	if err != nil || schedule == nil {
		return schedule, err
	}

	schedule.WorkflowID = workflow.ID
	schedule.OrganizationID = workflow.OrganizationID

	return schedule, nil
}
