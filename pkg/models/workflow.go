// Package models defines the core domain models for node-based workflow automation.
package models

import "time"

// Workflow is a directed graph of typed nodes owned by an organization.
// Executions capture a snapshot of the definition at trigger time, so a
// workflow is effectively immutable from the point of view of a running
// execution even while users keep editing it.
type Workflow struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id" validate:"required"`
	Name           string        `json:"name"            validate:"required,min=3"`
	Nodes          []*Node       `json:"nodes"`
	Connections    []*Connection `json:"connections"`
	Tags           []string      `json:"tags,omitempty"`
	CreatedBy      string        `json:"created_by"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// TriggerNode returns the first trigger node of the workflow, or nil when the
// graph has none.
func (w *Workflow) TriggerNode() *Node {
	for _, n := range w.Nodes {
		if n.Type == NodeTypeTrigger {
			return n
		}
	}

	return nil
}

// Incoming returns all connections targeting the given node.
func (w *Workflow) Incoming(nodeID string) []*Connection {
	var in []*Connection

	for _, c := range w.Connections {
		if c.ToNodeID == nodeID {
			in = append(in, c)
		}
	}

	return in
}

// Outgoing returns all connections leaving the given node.
func (w *Workflow) Outgoing(nodeID string) []*Connection {
	var out []*Connection

	for _, c := range w.Connections {
		if c.FromNodeID == nodeID {
			out = append(out, c)
		}
	}

	return out
}

// Connection is a directed data-flow edge between two nodes. InputPort is set
// only when the target node accepts multiple named inputs (join ports "A",
// "B", ...); portless edges merge positionally.
type Connection struct {
	ID         string `json:"id"`
	FromNodeID string `json:"from_node_id" validate:"required"`
	ToNodeID   string `json:"to_node_id"   validate:"required"`
	InputPort  string `json:"input_port,omitempty"`
}
