package models

import "time"

// ApprovalStatus is the lifecycle state of a pending approval.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// ApprovalDecision is the external actor's verdict on a pending approval.
type ApprovalDecision string

const (
	ApprovalDecisionApproved ApprovalDecision = "approved"
	ApprovalDecisionRejected ApprovalDecision = "rejected"
)

// PendingApproval is the suspension record created when an execution reaches
// an approval node. Resolving it is the only way the run continues past that
// node. One record exists per in-flight approval node visit.
type PendingApproval struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	WorkflowID     string         `json:"workflow_id"`
	ExecutionID    string         `json:"execution_id"`
	NodeID         string         `json:"node_id"`
	AssignedUserID string         `json:"assigned_user_id"`
	Status         ApprovalStatus `json:"status"`
	InputPreview   any            `json:"input_preview,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
