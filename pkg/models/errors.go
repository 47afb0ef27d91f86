package models

import "errors"

var (
	// ErrInvalidWorkflow marks save-time graph validation failures. Malformed
	// graphs are rejected when saved, never at run time.
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrInvalidSchedule marks a schedule declaration that cannot be derived
	// into a schedule row.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrIntervalTooShort rejects sub-minute interval schedules. They are
	// rejected outright, not rounded up.
	ErrIntervalTooShort = errors.New("schedule interval below one minute")
)
