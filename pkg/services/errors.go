package services

import (
	"errors"

	"github.com/weftwork/weft/pkg/persistence"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	// ErrExecutionNotFound is returned when an execution is not found.
	ErrExecutionNotFound = persistence.ErrExecutionNotFound

	// ErrApprovalNotFound is returned when an approval is not found.
	ErrApprovalNotFound = persistence.ErrApprovalNotFound

	// ErrExecutionTerminal is returned when cancelling a run that already
	// reached a terminal status.
	ErrExecutionTerminal = errors.New("execution already reached a terminal status")

	// ErrApprovalResolved is returned when resolving an approval twice.
	ErrApprovalResolved = errors.New("approval has already been resolved")

	// ErrInvalidDecision is returned for a decision outside approved/rejected.
	ErrInvalidDecision = errors.New("decision must be approved or rejected")
)
