package engine

import "errors"

var (
	// ErrNodeNotFound is returned when a referenced node id is not part of
	// the workflow definition.
	ErrNodeNotFound = errors.New("node not found in workflow")

	// ErrNotAwaitingApproval is returned when resuming an execution that is
	// not suspended at an approval node.
	ErrNotAwaitingApproval = errors.New("execution is not awaiting approval")

	// ErrApprovalResolved is returned when an approval was already decided.
	ErrApprovalResolved = errors.New("approval has already been resolved")

	// ErrApprovalNodeDirect is returned when an approval node is evaluated
	// through the single-node debug path.
	ErrApprovalNodeDirect = errors.New("approval nodes are resolved externally and cannot be evaluated directly")
)
