package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/weftwork/weft/pkg/clients"
	"github.com/weftwork/weft/pkg/datasource"
	"github.com/weftwork/weft/pkg/log"
	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/sandbox"
)

// SnippetRunner executes an untrusted code snippet against input data.
// *sandbox.Sandbox is the production implementation.
type SnippetRunner interface {
	Run(ctx context.Context, code string, inputData any, timeout time.Duration) (*sandbox.Result, error)
}

// Evaluator is the closed dispatch over node types. It holds every external
// collaborator a node may call out to and no run state: the same evaluator
// serves all concurrent executions.
type Evaluator struct {
	snippets   SnippetRunner
	dataSource datasource.DataSource
	llm        clients.LLMClient
	proxy      clients.HTTPProxy
	logger     *slog.Logger
}

// NewEvaluator creates an evaluator wired to its collaborators.
func NewEvaluator(snippets SnippetRunner, dataSource datasource.DataSource, llm clients.LLMClient, proxy clients.HTTPProxy) *Evaluator {
	return &Evaluator{
		snippets:   snippets,
		dataSource: dataSource,
		llm:        llm,
		proxy:      proxy,
		logger:     log.WithModule("evaluator"),
	}
}

// Evaluate runs one node against its merged input context. triggerInputs is
// the run's trigger payload: the trigger node publishes it, and manual-input
// nodes accept per-node overrides keyed by node id.
func (e *Evaluator) Evaluate(ctx context.Context, node *models.Node, input any, triggerInputs map[string]any) (any, error) {
	switch node.Type {
	case models.NodeTypeTrigger:
		if triggerInputs == nil {
			return map[string]any{}, nil
		}

		return triggerInputs, nil

	case models.NodeTypeManualInput:
		return e.evaluateManualInput(node, triggerInputs)

	case models.NodeTypeFetchData:
		return e.evaluateFetchData(ctx, node)

	case models.NodeTypeJoin:
		return e.evaluateJoin(node, input)

	case models.NodeTypeAddField:
		return e.evaluateAddField(node, input)

	case models.NodeTypeCode:
		return e.evaluateCode(ctx, node, input)

	case models.NodeTypeLLMCall:
		return e.evaluateLLMCall(ctx, node, input)

	case models.NodeTypeHTTPProxy:
		return e.evaluateHTTPProxy(ctx, node, input)

	case models.NodeTypeApproval:
		return nil, ErrApprovalNodeDirect

	case models.NodeTypeOutput:
		return input, nil

	default:
		return nil, fmt.Errorf("unknown node type %q", node.Type)
	}
}

func (e *Evaluator) evaluateManualInput(node *models.Node, triggerInputs map[string]any) (any, error) {
	var config models.ManualInputConfig
	if err := models.DecodeConfig(node.Config, &config); err != nil {
		return nil, err
	}

	name := config.VariableName
	if name == "" {
		name = "value"
	}

	value := config.VariableValue
	if override, ok := triggerInputs[node.ID]; ok {
		value = override
	}

	return map[string]any{name: value}, nil
}

func (e *Evaluator) evaluateFetchData(ctx context.Context, node *models.Node) (any, error) {
	var config models.FetchDataConfig
	if err := models.DecodeConfig(node.Config, &config); err != nil {
		return nil, err
	}

	if config.EntityID == "" {
		return nil, fmt.Errorf("fetch node %s has no entity configured", node.ID)
	}

	rows, err := e.dataSource.List(ctx, config.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entity %s: %w", config.EntityID, err)
	}

	return rows, nil
}

func (e *Evaluator) evaluateJoin(node *models.Node, input any) (any, error) {
	var config models.JoinConfig
	if err := models.DecodeConfig(node.Config, &config); err != nil {
		return nil, err
	}

	context, ok := input.(map[string]any)
	if !ok {
		return input, nil
	}

	switch config.Strategy {
	case "":
		// Default: flatten the port context into one unified view. Map values
		// merge key-wise; anything else stays under its port key.
		merged := make(map[string]any, len(context))

		for _, port := range sortedKeys(context) {
			if m, ok := context[port].(map[string]any); ok {
				for k, v := range m {
					merged[k] = v
				}
			} else {
				merged[port] = context[port]
			}
		}

		return merged, nil

	case "concat":
		rowsA, _ := asRows(context["A"])
		rowsB, _ := asRows(context["B"])

		return append(rowsA, rowsB...), nil

	case "merge_by_key":
		if config.JoinKey == "" {
			return nil, fmt.Errorf("join node %s uses merge_by_key without a join key", node.ID)
		}

		rowsA, _ := asRows(context["A"])
		rowsB, _ := asRows(context["B"])

		return mergeByKey(rowsA, rowsB, config.JoinKey), nil

	default:
		return nil, fmt.Errorf("join node %s has unknown strategy %q", node.ID, config.Strategy)
	}
}

// mergeByKey matches every row of a against the first row of b sharing the
// join key value. Unmatched rows pass through unchanged.
func mergeByKey(a, b []map[string]any, key string) []map[string]any {
	result := make([]map[string]any, 0, len(a))

	for _, rowA := range a {
		merged := make(map[string]any, len(rowA))
		for k, v := range rowA {
			merged[k] = v
		}

		for _, rowB := range b {
			if rowB[key] == rowA[key] {
				for k, v := range rowB {
					merged[k] = v
				}

				break
			}
		}

		result = append(result, merged)
	}

	return result
}

func (e *Evaluator) evaluateAddField(node *models.Node, input any) (any, error) {
	var config models.AddFieldConfig
	if err := models.DecodeConfig(node.Config, &config); err != nil {
		return nil, err
	}

	if config.FieldName == "" {
		return nil, fmt.Errorf("add-field node %s has no field name configured", node.ID)
	}

	if rows, ok := asRows(input); ok {
		result := make([]map[string]any, 0, len(rows))

		for _, row := range rows {
			augmented := make(map[string]any, len(row)+1)
			for k, v := range row {
				augmented[k] = v
			}

			augmented[config.FieldName] = config.FieldValue
			result = append(result, augmented)
		}

		return result, nil
	}

	if m, ok := input.(map[string]any); ok {
		augmented := make(map[string]any, len(m)+1)
		for k, v := range m {
			augmented[k] = v
		}

		augmented[config.FieldName] = config.FieldValue

		return augmented, nil
	}

	augmented := map[string]any{config.FieldName: config.FieldValue}
	if input != nil {
		augmented["value"] = input
	}

	return augmented, nil
}

func (e *Evaluator) evaluateCode(ctx context.Context, node *models.Node, input any) (any, error) {
	var config models.CodeConfig
	if err := models.DecodeConfig(node.Config, &config); err != nil {
		return nil, err
	}

	result, err := e.snippets.Run(ctx, config.Source, input, time.Duration(config.TimeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	if result.Output != "" {
		e.logger.Debug("snippet wrote to stdout", "node_id", node.ID, "bytes", len(result.Output))
	}

	return result.Value, nil
}

func (e *Evaluator) evaluateLLMCall(ctx context.Context, node *models.Node, input any) (any, error) {
	var config models.LLMCallConfig
	if err := models.DecodeConfig(node.Config, &config); err != nil {
		return nil, err
	}

	if config.Prompt == "" {
		return nil, fmt.Errorf("llm node %s has no prompt configured", node.ID)
	}

	prompt := config.Prompt

	if input != nil {
		serialized, err := json.Marshal(input)
		if err == nil {
			prompt += "\n\nContext:\n" + string(serialized)
		}
	}

	response, err := e.llm.Complete(ctx, prompt, config.Model)
	if err != nil {
		return nil, fmt.Errorf("llm call failed: %w", err)
	}

	return map[string]any{
		"response":   response,
		"input_data": input,
	}, nil
}

func (e *Evaluator) evaluateHTTPProxy(ctx context.Context, node *models.Node, input any) (any, error) {
	var config models.HTTPProxyConfig
	if err := models.DecodeConfig(node.Config, &config); err != nil {
		return nil, err
	}

	if config.URL == "" {
		return nil, fmt.Errorf("proxy node %s has no URL configured", node.ID)
	}

	response, err := e.proxy.Call(ctx, config.Method, config.URL, config.Headers, input)
	if err != nil {
		return nil, fmt.Errorf("proxied request failed: %w", err)
	}

	body := response.Body
	if body == nil && response.RawBody != "" {
		body = response.RawBody
	}

	return map[string]any{
		"status_code": response.StatusCode,
		"body":        body,
	}, nil
}
