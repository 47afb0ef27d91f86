package models

import "time"

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending          ExecutionStatus = "pending"
	ExecutionStatusRunning          ExecutionStatus = "running"
	ExecutionStatusAwaitingApproval ExecutionStatus = "awaiting_approval"
	ExecutionStatusCompleted        ExecutionStatus = "completed"
	ExecutionStatusFailed           ExecutionStatus = "failed"
	ExecutionStatusCancelled        ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final. awaiting_approval is not
// terminal: the run resumes when the approval is resolved.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// TriggerType names the front door that started a run.
type TriggerType string

const (
	TriggerTypeManual    TriggerType = "manual"
	TriggerTypeScheduled TriggerType = "scheduled"
	TriggerTypeWebhook   TriggerType = "webhook"
	TriggerTypeForm      TriggerType = "form"
	TriggerTypeQueue     TriggerType = "queue"
)

// NodeOutput is the resolved result of one node within one execution. Either
// Value or Error is set. Entries are written once and never rewritten.
type NodeOutput struct {
	Value      any       `json:"value,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Execution is the durable ledger record of one workflow run. Snapshot is
// the workflow definition as it was at trigger time; the engine only ever
// reads the snapshot, never the live definition.
type Execution struct {
	ID              string                `json:"id"`
	WorkflowID      string                `json:"workflow_id"`
	OrganizationID  string                `json:"organization_id"`
	Status          ExecutionStatus       `json:"status"`
	TriggerType     TriggerType           `json:"trigger_type"`
	Inputs          map[string]any        `json:"inputs,omitempty"`
	Snapshot        *Workflow             `json:"snapshot"`
	NodeOutputs     map[string]NodeOutput `json:"node_outputs"`
	StartedAt       time.Time             `json:"started_at"`
	FinishedAt      *time.Time            `json:"finished_at,omitempty"`
	CancelRequested bool                  `json:"cancel_requested"`
	FailedNodeID    string                `json:"failed_node_id,omitempty"`
	Error           string                `json:"error,omitempty"`
}

// Result collects the values of output-typed nodes, the externally visible
// result of a completed run.
func (e *Execution) Result() map[string]any {
	if e.Snapshot == nil {
		return nil
	}

	result := make(map[string]any)

	for _, node := range e.Snapshot.Nodes {
		if node.Type != NodeTypeOutput {
			continue
		}

		if out, ok := e.NodeOutputs[node.ID]; ok && out.Error == "" {
			result[node.ID] = out.Value
		}
	}

	return result
}

// ExecutionSummary is the history-listing projection of an execution: no
// snapshot, no per-node payloads.
type ExecutionSummary struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	Status       ExecutionStatus `json:"status"`
	TriggerType  TriggerType     `json:"trigger_type"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	FailedNodeID string          `json:"failed_node_id,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Summary projects the execution into its history form.
func (e *Execution) Summary() ExecutionSummary {
	return ExecutionSummary{
		ID:           e.ID,
		WorkflowID:   e.WorkflowID,
		Status:       e.Status,
		TriggerType:  e.TriggerType,
		StartedAt:    e.StartedAt,
		FinishedAt:   e.FinishedAt,
		FailedNodeID: e.FailedNodeID,
		Error:        e.Error,
	}
}
