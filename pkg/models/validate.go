package models

import (
	"fmt"
)

// ValidationResult carries non-fatal findings from graph validation.
// Warnings do not block a save; they surface design smells such as
// last-writer-wins merges on untagged multi-input nodes.
type ValidationResult struct {
	Warnings []string
}

// Validate checks the workflow graph at save time. Malformed graphs (cycles,
// dangling edges, unknown node types, unreachable nodes, bad configs,
// sub-minute schedules) are rejected here and never reach the engine.
func (w *Workflow) Validate() (*ValidationResult, error) {
	result := &ValidationResult{}

	if len(w.Nodes) == 0 {
		return nil, fmt.Errorf("%w: workflow has no nodes", ErrInvalidWorkflow)
	}

	nodesByID := make(map[string]*Node, len(w.Nodes))

	for _, node := range w.Nodes {
		if node.ID == "" {
			return nil, fmt.Errorf("%w: node with empty id", ErrInvalidWorkflow)
		}

		if _, dup := nodesByID[node.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrInvalidWorkflow, node.ID)
		}

		if !node.Type.Known() {
			return nil, fmt.Errorf("%w: unknown node type %q on node %s", ErrInvalidWorkflow, node.Type, node.ID)
		}

		if err := ValidateNodeConfig(node); err != nil {
			return nil, err
		}

		nodesByID[node.ID] = node
	}

	if w.TriggerNode() == nil {
		return nil, fmt.Errorf("%w: workflow has no trigger node", ErrInvalidWorkflow)
	}

	if err := w.validateConnections(nodesByID, result); err != nil {
		return nil, err
	}

	if err := w.validateAcyclic(); err != nil {
		return nil, err
	}

	if err := w.validateReachability(); err != nil {
		return nil, err
	}

	// Schedule derivation shares the same save-time gate: a trigger declaring
	// a sub-minute interval fails the save.
	if _, err := ScheduleFromWorkflow(w); err != nil {
		return nil, err
	}

	return result, nil
}

func (w *Workflow) validateConnections(nodesByID map[string]*Node, result *ValidationResult) error {
	untaggedIn := make(map[string]int)
	seenPorts := make(map[string]bool)

	for _, conn := range w.Connections {
		from, ok := nodesByID[conn.FromNodeID]
		if !ok {
			return fmt.Errorf("%w: connection %s references unknown source node %q", ErrInvalidWorkflow, conn.ID, conn.FromNodeID)
		}

		target, ok := nodesByID[conn.ToNodeID]
		if !ok {
			return fmt.Errorf("%w: connection %s references unknown target node %q", ErrInvalidWorkflow, conn.ID, conn.ToNodeID)
		}

		if conn.FromNodeID == conn.ToNodeID {
			return fmt.Errorf("%w: connection %s is a self-loop on node %s", ErrInvalidWorkflow, conn.ID, from.ID)
		}

		if conn.InputPort != "" {
			if !target.AcceptsPorts() {
				return fmt.Errorf("%w: connection %s tags port %q but node %s does not accept named inputs",
					ErrInvalidWorkflow, conn.ID, conn.InputPort, target.ID)
			}

			portKey := conn.ToNodeID + ":" + conn.InputPort
			if seenPorts[portKey] {
				return fmt.Errorf("%w: node %s receives port %q twice", ErrInvalidWorkflow, target.ID, conn.InputPort)
			}

			seenPorts[portKey] = true
		} else {
			untaggedIn[conn.ToNodeID]++
		}

		if target.Type == NodeTypeTrigger {
			return fmt.Errorf("%w: trigger node %s cannot have incoming connections", ErrInvalidWorkflow, target.ID)
		}
	}

	for nodeID, count := range untaggedIn {
		if count > 1 {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"node %s has %d untagged incoming edges; colliding keys resolve last-writer-wins", nodeID, count))
		}
	}

	return nil
}

// validateAcyclic rejects graphs where a node depends on its own output,
// directly or transitively. Iterative DFS with three-color marking.
func (w *Workflow) validateAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)

	color := make(map[string]int, len(w.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey

		for _, conn := range w.Outgoing(id) {
			switch color[conn.ToNodeID] {
			case grey:
				return fmt.Errorf("%w: cycle through node %s", ErrInvalidWorkflow, conn.ToNodeID)
			case white:
				if err := visit(conn.ToNodeID); err != nil {
					return err
				}
			}
		}

		color[id] = black

		return nil
	}

	for _, node := range w.Nodes {
		if color[node.ID] == white {
			if err := visit(node.ID); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateReachability requires every non-trigger node to be reachable from
// a trigger node through incoming connections.
func (w *Workflow) validateReachability() error {
	reachable := make(map[string]bool)

	var walk func(id string)
	walk = func(id string) {
		if reachable[id] {
			return
		}

		reachable[id] = true

		for _, conn := range w.Outgoing(id) {
			walk(conn.ToNodeID)
		}
	}

	for _, node := range w.Nodes {
		if node.Type == NodeTypeTrigger {
			walk(node.ID)
		}
	}

	for _, node := range w.Nodes {
		if !reachable[node.ID] {
			return fmt.Errorf("%w: node %s is not reachable from a trigger", ErrInvalidWorkflow, node.ID)
		}
	}

	return nil
}
