package engine

import (
	"maps"
	"sort"

	"github.com/weftwork/weft/pkg/models"
)

// mergeInputs builds a node's input context from its incoming edges. When any
// edge carries a port tag the context is keyed by port; otherwise a single
// edge passes its value through unchanged, and multiple edges merge map
// values key-wise with later edges winning collisions. Non-map values in a
// multi-edge merge land under their source node id so nothing is silently
// dropped.
func mergeInputs(workflow *models.Workflow, node *models.Node, resolved map[string]any) any {
	incoming := workflow.Incoming(node.ID)
	if len(incoming) == 0 {
		return nil
	}

	tagged := false

	for _, conn := range incoming {
		if conn.InputPort != "" {
			tagged = true

			break
		}
	}

	if tagged {
		context := make(map[string]any, len(incoming))

		for _, conn := range incoming {
			key := conn.InputPort
			if key == "" {
				key = conn.FromNodeID
			}

			context[key] = resolved[conn.FromNodeID]
		}

		return context
	}

	if len(incoming) == 1 {
		return resolved[incoming[0].FromNodeID]
	}

	merged := make(map[string]any)

	for _, conn := range incoming {
		value := resolved[conn.FromNodeID]

		if m, ok := value.(map[string]any); ok {
			maps.Copy(merged, m)
		} else {
			merged[conn.FromNodeID] = value
		}
	}

	return merged
}

// sortedKeys returns map keys in stable order so port merges are
// deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// asRows interprets a value as a row list. JSON decoding yields []any, so
// both that and the already-typed form are accepted.
func asRows(value any) ([]map[string]any, bool) {
	switch rows := value.(type) {
	case []map[string]any:
		return rows, true
	case []any:
		out := make([]map[string]any, 0, len(rows))

		for _, item := range rows {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}

			out = append(out, row)
		}

		return out, true
	default:
		return nil, false
	}
}
