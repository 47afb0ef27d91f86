// Package events defines event types and structures for execution lifecycle
// notifications.
package events

import (
	"time"

	"github.com/weftwork/weft/pkg/models"
)

type EventType string

// Topic carries every workflow event.
const Topic = "weft.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Front door requests, consumed by workers.
	ExecutionRequestedEvent EventType = "execution.requested"
	ApprovalResolvedEvent   EventType = "approval.resolved"

	// Execution lifecycle notifications, published by workers.
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionSuspendedEvent EventType = "execution.suspended"
	ExecutionCancelledEvent EventType = "execution.cancelled"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ExecutionRequested asks a worker to drive an already-created execution.
// The front door creates the ledger row so callers get an execution id
// synchronously; the worker picks the run up from there.
type ExecutionRequested struct {
	BaseEvent

	ExecutionID string             `json:"execution_id"`
	TriggerType models.TriggerType `json:"trigger_type"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

// ApprovalResolved asks a worker to resume (or fail) a suspended run.
type ApprovalResolved struct {
	BaseEvent

	ApprovalID  string                  `json:"approval_id"`
	ExecutionID string                  `json:"execution_id"`
	Decision    models.ApprovalDecision `json:"decision"`
}

func (e ApprovalResolved) GetType() EventType {
	return ApprovalResolvedEvent
}

// ExecutionCompleted announces a run that reached completed.
type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	Result      map[string]any `json:"result,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

// ExecutionFailed announces a run halted by a node failure.
type ExecutionFailed struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	FailedNodeID string `json:"failed_node_id,omitempty"`
	Error        string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// ExecutionSuspended announces a run waiting at an approval gate.
type ExecutionSuspended struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ApprovalID  string `json:"approval_id"`
	NodeID      string `json:"node_id"`
}

func (e ExecutionSuspended) GetType() EventType {
	return ExecutionSuspendedEvent
}

// ExecutionCancelled announces a run stopped by a cancellation request.
type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}
