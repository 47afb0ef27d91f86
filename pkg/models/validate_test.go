package models

import (
	"errors"
	"testing"
)

func linearWorkflow() *Workflow {
	return &Workflow{
		ID:             "wf-lin",
		OrganizationID: "org-1",
		Name:           "linear",
		Nodes: []*Node{
			{ID: "t", Type: NodeTypeTrigger},
			{ID: "a", Type: NodeTypeAddField, Config: map[string]any{"field_name": "x", "field_value": 1}},
			{ID: "o", Type: NodeTypeOutput},
		},
		Connections: []*Connection{
			{ID: "c1", FromNodeID: "t", ToNodeID: "a"},
			{ID: "c2", FromNodeID: "a", ToNodeID: "o"},
		},
	}
}

func TestValidate_LinearGraph(t *testing.T) {
	result, err := linearWorkflow().Validate()
	if err != nil {
		t.Fatalf("expected valid workflow, got: %v", err)
	}

	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings, got: %v", result.Warnings)
	}
}

func TestValidate_UnknownNodeType(t *testing.T) {
	w := linearWorkflow()
	w.Nodes[1].Type = "frobnicate"

	_, err := w.Validate()
	if !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got: %v", err)
	}
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	w := linearWorkflow()
	w.Nodes = append(w.Nodes, &Node{ID: "a", Type: NodeTypeOutput})

	if _, err := w.Validate(); !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got: %v", err)
	}
}

func TestValidate_DanglingEdge(t *testing.T) {
	w := linearWorkflow()
	w.Connections = append(w.Connections, &Connection{ID: "c3", FromNodeID: "a", ToNodeID: "ghost"})

	if _, err := w.Validate(); !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got: %v", err)
	}
}

func TestValidate_Cycle(t *testing.T) {
	w := linearWorkflow()
	w.Connections = append(w.Connections, &Connection{ID: "c3", FromNodeID: "o", ToNodeID: "a"})

	if _, err := w.Validate(); !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got: %v", err)
	}
}

func TestValidate_UnreachableNode(t *testing.T) {
	w := linearWorkflow()
	w.Nodes = append(w.Nodes, &Node{ID: "island", Type: NodeTypeOutput})

	if _, err := w.Validate(); !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got: %v", err)
	}
}

func TestValidate_NoTrigger(t *testing.T) {
	w := linearWorkflow()
	w.Nodes = w.Nodes[1:]
	w.Connections = w.Connections[1:]

	if _, err := w.Validate(); !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got: %v", err)
	}
}

func TestValidate_PortOnNonJoinNode(t *testing.T) {
	w := linearWorkflow()
	w.Connections[1].InputPort = "A"

	if _, err := w.Validate(); !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got: %v", err)
	}
}

func TestValidate_JoinPorts(t *testing.T) {
	w := &Workflow{
		ID:             "wf-join",
		OrganizationID: "org-1",
		Name:           "join graph",
		Nodes: []*Node{
			{ID: "t", Type: NodeTypeTrigger},
			{ID: "a", Type: NodeTypeManualInput, Config: map[string]any{"variable_name": "x", "variable_value": 1}},
			{ID: "b", Type: NodeTypeManualInput, Config: map[string]any{"variable_name": "y", "variable_value": 2}},
			{ID: "j", Type: NodeTypeJoin},
			{ID: "o", Type: NodeTypeOutput},
		},
		Connections: []*Connection{
			{ID: "c1", FromNodeID: "t", ToNodeID: "a"},
			{ID: "c2", FromNodeID: "t", ToNodeID: "b"},
			{ID: "c3", FromNodeID: "a", ToNodeID: "j", InputPort: "A"},
			{ID: "c4", FromNodeID: "b", ToNodeID: "j", InputPort: "B"},
			{ID: "c5", FromNodeID: "j", ToNodeID: "o"},
		},
	}

	if _, err := w.Validate(); err != nil {
		t.Fatalf("expected valid workflow, got: %v", err)
	}
}

func TestValidate_DuplicatePort(t *testing.T) {
	w := linearWorkflow()
	w.Nodes = append(w.Nodes, &Node{ID: "j", Type: NodeTypeJoin})
	w.Connections = append(w.Connections,
		&Connection{ID: "c3", FromNodeID: "t", ToNodeID: "j", InputPort: "A"},
		&Connection{ID: "c4", FromNodeID: "a", ToNodeID: "j", InputPort: "A"},
	)

	if _, err := w.Validate(); !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got: %v", err)
	}
}

func TestValidate_UntaggedFanInWarns(t *testing.T) {
	w := linearWorkflow()
	w.Nodes = append(w.Nodes, &Node{ID: "b", Type: NodeTypeManualInput, Config: map[string]any{"variable_name": "y"}})
	w.Connections = append(w.Connections,
		&Connection{ID: "c3", FromNodeID: "t", ToNodeID: "b"},
		&Connection{ID: "c4", FromNodeID: "b", ToNodeID: "o"},
	)

	result, err := w.Validate()
	if err != nil {
		t.Fatalf("expected valid workflow, got: %v", err)
	}

	if len(result.Warnings) != 1 {
		t.Errorf("expected one last-writer-wins warning, got: %v", result.Warnings)
	}
}

func TestValidate_BadNodeConfig(t *testing.T) {
	w := linearWorkflow()
	w.Nodes[1].Config = map[string]any{} // addField without field_name

	if _, err := w.Validate(); !errors.Is(err, ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got: %v", err)
	}
}

func TestValidate_SubMinuteScheduleRejected(t *testing.T) {
	w := linearWorkflow()
	w.Nodes[0].Config = map[string]any{
		"schedule": map[string]any{
			"enabled":        true,
			"interval_value": float64(1),
			"interval_unit":  "s",
		},
	}

	// "s" is not an accepted unit: the schema rejects it before derivation.
	if _, err := w.Validate(); err == nil {
		t.Fatal("expected sub-minute schedule to be rejected")
	}
}
