package models

// NodeType enumerates the closed set of step types a workflow graph may
// contain. Adding a type means touching the evaluator switch and the config
// schema table, both of which are compile-time checked.
type NodeType string

const (
	NodeTypeTrigger     NodeType = "trigger"
	NodeTypeManualInput NodeType = "manualInput"
	NodeTypeFetchData   NodeType = "fetchData"
	NodeTypeJoin        NodeType = "join"
	NodeTypeAddField    NodeType = "addField"
	NodeTypeCode        NodeType = "code"
	NodeTypeLLMCall     NodeType = "llmCall"
	NodeTypeHTTPProxy   NodeType = "httpProxy"
	NodeTypeApproval    NodeType = "approval"
	NodeTypeOutput      NodeType = "output"
)

// AllNodeTypes lists every known node type, in evaluation-documentation order.
var AllNodeTypes = []NodeType{
	NodeTypeTrigger,
	NodeTypeManualInput,
	NodeTypeFetchData,
	NodeTypeJoin,
	NodeTypeAddField,
	NodeTypeCode,
	NodeTypeLLMCall,
	NodeTypeHTTPProxy,
	NodeTypeApproval,
	NodeTypeOutput,
}

// Known reports whether t is a member of the closed node type set.
func (t NodeType) Known() bool {
	for _, known := range AllNodeTypes {
		if t == known {
			return true
		}
	}

	return false
}

// Node is one typed step in a workflow graph. Config is stored as loose JSON
// and decoded into the type-specific struct at evaluation and validation time.
type Node struct {
	ID        string         `json:"id"    validate:"required"`
	Type      NodeType       `json:"type"  validate:"required"`
	Label     string         `json:"label"`
	PositionX int            `json:"position_x"`
	PositionY int            `json:"position_y"`
	Config    map[string]any `json:"config,omitempty"`
}

// AcceptsPorts reports whether the node accepts multiple named inputs.
// Only join nodes take port-tagged edges; everything else merges positionally.
func (n *Node) AcceptsPorts() bool {
	return n.Type == NodeTypeJoin
}
