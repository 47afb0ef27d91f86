// Package web provides the HTTP surface: workflow authoring, execution
// control, approvals and the public webhook/form trigger endpoints.
package web

import "github.com/weftwork/weft/pkg/models"

// SaveWorkflowRequest is the request body for creating or replacing a
// workflow. Saves carry the whole graph; there is no per-node endpoint.
type SaveWorkflowRequest struct {
	OrganizationID string               `json:"organization_id" validate:"required"`
	Name           string               `json:"name"            validate:"required,min=3"`
	Nodes          []*models.Node       `json:"nodes"           validate:"required,min=1"`
	Connections    []*models.Connection `json:"connections"`
	Tags           []string             `json:"tags,omitempty"`
	CreatedBy      string               `json:"created_by,omitempty"`
}

// ExecuteWorkflowRequest carries optional per-node input overrides for a
// manually triggered run.
type ExecuteWorkflowRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}

// ExecuteNodeRequest asks for a single node evaluation with a caller-supplied
// input, outside any execution.
type ExecuteNodeRequest struct {
	NodeID string `json:"node_id" validate:"required"`
	Input  any    `json:"input,omitempty"`
}

// ResolveApprovalRequest carries the decision for a pending approval.
type ResolveApprovalRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
}

// SaveWorkflowResponse returns the stored workflow together with any
// non-blocking validation warnings.
type SaveWorkflowResponse struct {
	Workflow *models.Workflow `json:"workflow"`
	Warnings []string         `json:"warnings,omitempty"`
}

func (r *SaveWorkflowRequest) toModel() *models.Workflow {
	return &models.Workflow{
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		Nodes:          r.Nodes,
		Connections:    r.Connections,
		Tags:           r.Tags,
		CreatedBy:      r.CreatedBy,
	}
}
