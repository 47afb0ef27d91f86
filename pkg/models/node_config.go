package models

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Typed config payloads, one per node type. They are decoded from the loose
// JSON config map so the evaluator can dispatch over a closed set of variants
// instead of poking at map keys.

// TriggerConfig configures the workflow entry node. A schedule declaration
// turns the workflow into a scheduled one; reconciliation derives the
// schedule row from it on every save.
type TriggerConfig struct {
	Schedule *ScheduleConfig `json:"schedule,omitempty"`
}

// ScheduleConfig is the declarative schedule embedded in a trigger node.
// Either interval_value/interval_unit or cron_expression is set.
type ScheduleConfig struct {
	Enabled        bool   `json:"enabled"`
	IntervalValue  int64  `json:"interval_value,omitempty"`
	IntervalUnit   string `json:"interval_unit,omitempty"`
	CronExpression string `json:"cron_expression,omitempty"`
}

// ManualInputConfig carries a literal value published under a variable name.
type ManualInputConfig struct {
	VariableName  string `json:"variable_name"`
	VariableValue any    `json:"variable_value"`
}

// FetchDataConfig names the entity whose rows the data source collaborator
// should list.
type FetchDataConfig struct {
	EntityID string `json:"entity_id"`
}

// JoinConfig tunes how port-tagged inputs are combined. The default merges
// the port context into one map; "concat" appends row lists, "merge_by_key"
// matches rows from port A with rows from port B on JoinKey.
type JoinConfig struct {
	Strategy string `json:"strategy,omitempty"`
	JoinKey  string `json:"join_key,omitempty"`
}

// AddFieldConfig adds a derived field to the input context (or to every row
// when the input is a row list).
type AddFieldConfig struct {
	FieldName  string `json:"field_name"`
	FieldValue any    `json:"field_value"`
}

// CodeConfig holds an untrusted snippet run by the sandbox executor.
type CodeConfig struct {
	Source         string `json:"source"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// LLMCallConfig configures a chat-completion call through the external LLM
// collaborator.
type LLMCallConfig struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// HTTPProxyConfig configures an outbound HTTP call through the external API
// collaborator.
type HTTPProxyConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ApprovalConfig assigns the human gate to a user.
type ApprovalConfig struct {
	AssignedUserID string `json:"assigned_user_id"`
	Message        string `json:"message,omitempty"`
}

// DecodeConfig decodes a node's loose config map into the typed struct for
// its node type. out must be a pointer to the matching config struct.
func DecodeConfig(config map[string]any, out any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode node config: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode node config: %w", err)
	}

	return nil
}

// configSchemas maps each node type to the JSON schema its config must
// satisfy at save time. Empty schemas accept anything (trigger without a
// schedule, join defaults, output).
var configSchemas = map[NodeType]map[string]any{
	NodeTypeTrigger: {
		"type": "object",
		"properties": map[string]any{
			"schedule": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"enabled":         map[string]any{"type": "boolean"},
					"interval_value":  map[string]any{"type": "integer", "minimum": 1},
					"interval_unit":   map[string]any{"type": "string", "enum": []string{"m", "h", "d"}},
					"cron_expression": map[string]any{"type": "string"},
				},
				"required": []string{"enabled"},
			},
		},
	},
	NodeTypeManualInput: {
		"type": "object",
		"properties": map[string]any{
			"variable_name":  map[string]any{"type": "string", "minLength": 1},
			"variable_value": map[string]any{},
		},
		"required": []string{"variable_name"},
	},
	NodeTypeFetchData: {
		"type": "object",
		"properties": map[string]any{
			"entity_id": map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"entity_id"},
	},
	NodeTypeJoin: {
		"type": "object",
		"properties": map[string]any{
			"strategy": map[string]any{"type": "string", "enum": []string{"merge", "concat", "merge_by_key"}},
			"join_key": map[string]any{"type": "string"},
		},
	},
	NodeTypeAddField: {
		"type": "object",
		"properties": map[string]any{
			"field_name":  map[string]any{"type": "string", "minLength": 1},
			"field_value": map[string]any{},
		},
		"required": []string{"field_name"},
	},
	NodeTypeCode: {
		"type": "object",
		"properties": map[string]any{
			"source":          map[string]any{"type": "string", "minLength": 1},
			"timeout_seconds": map[string]any{"type": "integer", "minimum": 1, "maximum": 300},
		},
		"required": []string{"source"},
	},
	NodeTypeLLMCall: {
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{"type": "string", "minLength": 1},
			"model":  map[string]any{"type": "string"},
		},
		"required": []string{"prompt"},
	},
	NodeTypeHTTPProxy: {
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string", "minLength": 1},
			"method":  map[string]any{"type": "string", "enum": []string{"GET", "POST", "PUT", "DELETE"}},
			"headers": map[string]any{"type": "object"},
		},
		"required": []string{"url"},
	},
	NodeTypeApproval: {
		"type": "object",
		"properties": map[string]any{
			"assigned_user_id": map[string]any{"type": "string", "minLength": 1},
			"message":          map[string]any{"type": "string"},
		},
		"required": []string{"assigned_user_id"},
	},
	NodeTypeOutput: {
		"type": "object",
	},
}

// ValidateNodeConfig checks a node's config map against the JSON schema for
// its type.
func ValidateNodeConfig(node *Node) error {
	schema, ok := configSchemas[node.Type]
	if !ok {
		return fmt.Errorf("%w: unknown node type %q", ErrInvalidWorkflow, node.Type)
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config for node %s: %w", node.ID, err)
	}

	if !result.Valid() {
		detail := ""
		for _, desc := range result.Errors() {
			if detail != "" {
				detail += "; "
			}

			detail += desc.String()
		}

		return fmt.Errorf("%w: node %s config invalid: %s", ErrInvalidWorkflow, node.ID, detail)
	}

	return nil
}
