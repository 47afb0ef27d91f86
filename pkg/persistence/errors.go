package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrApprovalNotFound indicates a pending approval was not found.
	ErrApprovalNotFound = errors.New("approval not found")

	// ErrScheduleNotFound indicates no schedule row exists for the workflow.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrNodeOutputExists indicates an attempt to rewrite an already resolved
	// node output. Node outputs accumulate monotonically.
	ErrNodeOutputExists = errors.New("node output already recorded")
)
