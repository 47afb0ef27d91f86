package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft/pkg/clients"
	"github.com/weftwork/weft/pkg/datasource"
	"github.com/weftwork/weft/pkg/models"
)

func newTestEvaluator(llm *fakeLLM) *Evaluator {
	if llm == nil {
		llm = &fakeLLM{response: "ok"}
	}

	return NewEvaluator(&fakeRunner{}, datasource.Static{}, llm, clients.NewProxyClient())
}

func TestEvaluateJoinConcat(t *testing.T) {
	evaluator := newTestEvaluator(nil)

	joinNode := node("j", models.NodeTypeJoin, map[string]any{"strategy": "concat"})
	input := map[string]any{
		"A": []any{map[string]any{"id": "1"}},
		"B": []any{map[string]any{"id": "2"}, map[string]any{"id": "3"}},
	}

	value, err := evaluator.Evaluate(context.Background(), joinNode, input, nil)
	require.NoError(t, err)

	rows, ok := value.([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 3)
	assert.Equal(t, "1", rows[0]["id"])
	assert.Equal(t, "3", rows[2]["id"])
}

func TestEvaluateJoinMergeByKey(t *testing.T) {
	evaluator := newTestEvaluator(nil)

	joinNode := node("j", models.NodeTypeJoin, map[string]any{"strategy": "merge_by_key", "join_key": "id"})
	input := map[string]any{
		"A": []any{
			map[string]any{"id": "1", "name": "ada"},
			map[string]any{"id": "2", "name": "grace"},
		},
		"B": []any{
			map[string]any{"id": "1", "email": "ada@example.com"},
		},
	}

	value, err := evaluator.Evaluate(context.Background(), joinNode, input, nil)
	require.NoError(t, err)

	rows, ok := value.([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 2)

	assert.Equal(t, "ada@example.com", rows[0]["email"])

	// Unmatched rows pass through unchanged.
	_, hasEmail := rows[1]["email"]
	assert.False(t, hasEmail)
}

func TestEvaluateJoinMergeByKeyRequiresKey(t *testing.T) {
	evaluator := newTestEvaluator(nil)

	joinNode := node("j", models.NodeTypeJoin, map[string]any{"strategy": "merge_by_key"})

	_, err := evaluator.Evaluate(context.Background(), joinNode, map[string]any{}, nil)
	assert.Error(t, err)
}

func TestEvaluateAddFieldOnRows(t *testing.T) {
	evaluator := newTestEvaluator(nil)

	fieldNode := node("f", models.NodeTypeAddField, map[string]any{"field_name": "region", "field_value": "eu"})
	input := []any{map[string]any{"id": "1"}, map[string]any{"id": "2"}}

	value, err := evaluator.Evaluate(context.Background(), fieldNode, input, nil)
	require.NoError(t, err)

	rows, ok := value.([]map[string]any)
	require.True(t, ok)

	for _, row := range rows {
		assert.Equal(t, "eu", row["region"])
	}
}

func TestEvaluateLLMCallIncludesContext(t *testing.T) {
	llm := &fakeLLM{response: "summarized"}
	evaluator := newTestEvaluator(llm)

	llmNode := node("l", models.NodeTypeLLMCall, map[string]any{"prompt": "summarize this"})

	value, err := evaluator.Evaluate(context.Background(), llmNode, map[string]any{"rows": 3}, nil)
	require.NoError(t, err)

	result, ok := value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "summarized", result["response"])
	assert.Equal(t, map[string]any{"rows": 3}, result["input_data"])
}

func TestEvaluateLLMCallRequiresPrompt(t *testing.T) {
	evaluator := newTestEvaluator(nil)

	llmNode := node("l", models.NodeTypeLLMCall, nil)

	_, err := evaluator.Evaluate(context.Background(), llmNode, nil, nil)
	assert.Error(t, err)
}

func TestEvaluateHTTPProxy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"echoed": true}`))
	}))
	defer server.Close()

	evaluator := newTestEvaluator(nil)

	proxyNode := node("p", models.NodeTypeHTTPProxy, map[string]any{"url": server.URL, "method": "POST"})

	value, err := evaluator.Evaluate(context.Background(), proxyNode, map[string]any{"payload": 1}, nil)
	require.NoError(t, err)

	result, ok := value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, result["status_code"])
	assert.Equal(t, map[string]any{"echoed": true}, result["body"])
}

func TestMergeInputsUntaggedLastWriterWins(t *testing.T) {
	workflow := testWorkflow(
		[]*models.Node{
			node("a", models.NodeTypeManualInput, nil),
			node("b", models.NodeTypeManualInput, nil),
			node("sink", models.NodeTypeOutput, nil),
		},
		[]*models.Connection{edge("a", "sink"), edge("b", "sink")},
	)

	resolved := map[string]any{
		"a": map[string]any{"k": "first", "only_a": 1},
		"b": map[string]any{"k": "second"},
	}

	merged := mergeInputs(workflow, workflow.NodeByID("sink"), resolved)

	assert.Equal(t, map[string]any{"k": "second", "only_a": 1}, merged)
}

func TestMergeInputsSingleEdgePassesThrough(t *testing.T) {
	workflow := testWorkflow(
		[]*models.Node{
			node("a", models.NodeTypeManualInput, nil),
			node("sink", models.NodeTypeOutput, nil),
		},
		[]*models.Connection{edge("a", "sink")},
	)

	resolved := map[string]any{"a": []any{1, 2, 3}}

	merged := mergeInputs(workflow, workflow.NodeByID("sink"), resolved)

	assert.Equal(t, []any{1, 2, 3}, merged)
}
