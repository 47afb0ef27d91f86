package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft/pkg/clients"
	"github.com/weftwork/weft/pkg/datasource"
	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/persistence/file"
	"github.com/weftwork/weft/pkg/sandbox"
)

type fakeRunner struct {
	fn func(ctx context.Context, code string, inputData any, timeout time.Duration) (*sandbox.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, code string, inputData any, timeout time.Duration) (*sandbox.Result, error) {
	if f.fn == nil {
		return &sandbox.Result{Value: inputData}, nil
	}

	return f.fn(ctx, code, inputData, timeout)
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, prompt, model string) (string, error) {
	return f.response, f.err
}

func newTestEngine(t *testing.T, runner *fakeRunner, source datasource.DataSource) (*Engine, *file.Persistence) {
	t.Helper()

	store, err := file.NewPersistence("")
	require.NoError(t, err)

	if runner == nil {
		runner = &fakeRunner{}
	}

	if source == nil {
		source = datasource.Static{}
	}

	evaluator := NewEvaluator(runner, source, &fakeLLM{response: "ok"}, clients.NewProxyClient())

	return NewEngine(store, evaluator, nil), store
}

func node(id string, nodeType models.NodeType, config map[string]any) *models.Node {
	return &models.Node{ID: id, Type: nodeType, Label: id, Config: config}
}

func edge(from, to string) *models.Connection {
	return &models.Connection{ID: from + "-" + to, FromNodeID: from, ToNodeID: to}
}

func portEdge(from, to, port string) *models.Connection {
	return &models.Connection{ID: from + "-" + to, FromNodeID: from, ToNodeID: to, InputPort: port}
}

func testWorkflow(nodes []*models.Node, connections []*models.Connection) *models.Workflow {
	return &models.Workflow{
		ID:             "wf-1",
		OrganizationID: "org-1",
		Name:           "test workflow",
		Nodes:          nodes,
		Connections:    connections,
	}
}

func TestExecuteLinearGraphCompletes(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	workflow := testWorkflow(
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("m", models.NodeTypeManualInput, map[string]any{"variable_name": "city", "variable_value": "lisbon"}),
			node("f", models.NodeTypeAddField, map[string]any{"field_name": "checked", "field_value": true}),
			node("o", models.NodeTypeOutput, nil),
		},
		[]*models.Connection{edge("t", "m"), edge("m", "f"), edge("f", "o")},
	)

	execution, err := engine.Execute(context.Background(), workflow, models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Len(t, execution.NodeOutputs, 4)
	require.NotNil(t, execution.FinishedAt)

	result := execution.Result()
	require.Contains(t, result, "o")
	assert.Equal(t, map[string]any{"city": "lisbon", "checked": true}, result["o"])
}

func TestExecuteJoinMergesPortInputs(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	workflow := testWorkflow(
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("m1", models.NodeTypeManualInput, map[string]any{"variable_name": "x", "variable_value": 1}),
			node("m2", models.NodeTypeManualInput, map[string]any{"variable_name": "y", "variable_value": 2}),
			node("j", models.NodeTypeJoin, nil),
			node("o", models.NodeTypeOutput, nil),
		},
		[]*models.Connection{
			edge("t", "m1"),
			edge("t", "m2"),
			portEdge("m1", "j", "A"),
			portEdge("m2", "j", "B"),
			edge("j", "o"),
		},
	)

	execution, err := engine.Execute(context.Background(), workflow, models.TriggerTypeManual, nil)
	require.NoError(t, err)

	require.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	joined := execution.NodeOutputs["j"].Value
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, joined)
}

func TestExecuteNodeFailureHaltsTraversal(t *testing.T) {
	runner := &fakeRunner{
		fn: func(ctx context.Context, code string, inputData any, timeout time.Duration) (*sandbox.Result, error) {
			return nil, errors.New("snippet exploded")
		},
	}

	engine, _ := newTestEngine(t, runner, nil)

	workflow := testWorkflow(
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("c", models.NodeTypeCode, map[string]any{"source": "def process(data):\n    return data"}),
			node("o", models.NodeTypeOutput, nil),
		},
		[]*models.Connection{edge("t", "c"), edge("c", "o")},
	)

	execution, err := engine.Execute(context.Background(), workflow, models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "c", execution.FailedNodeID)
	assert.Contains(t, execution.Error, "snippet exploded")

	// Partial outputs stay inspectable; downstream never ran.
	assert.Contains(t, execution.NodeOutputs, "t")
	assert.Contains(t, execution.NodeOutputs, "c")
	assert.NotContains(t, execution.NodeOutputs, "o")
	assert.NotEmpty(t, execution.NodeOutputs["c"].Error)
}

func TestExecuteCancelBetweenNodes(t *testing.T) {
	var store *file.Persistence

	// The snippet requests cancellation while its own node runs; the engine
	// must observe the flag before starting the next node.
	runner := &fakeRunner{
		fn: func(ctx context.Context, code string, inputData any, timeout time.Duration) (*sandbox.Result, error) {
			executions, err := store.ListExecutions(ctx, "wf-1", 1)
			if err != nil {
				return nil, err
			}

			if err := store.RequestCancel(ctx, executions[0].ID); err != nil {
				return nil, err
			}

			return &sandbox.Result{Value: "done"}, nil
		},
	}

	engine, s := newTestEngine(t, runner, nil)
	store = s

	workflow := testWorkflow(
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("c", models.NodeTypeCode, map[string]any{"source": "def process(data):\n    return data"}),
			node("o", models.NodeTypeOutput, nil),
		},
		[]*models.Connection{edge("t", "c"), edge("c", "o")},
	)

	execution, err := engine.Execute(context.Background(), workflow, models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Contains(t, execution.NodeOutputs, "t")
	assert.Contains(t, execution.NodeOutputs, "c")
	assert.NotContains(t, execution.NodeOutputs, "o")
}

func approvalWorkflow() *models.Workflow {
	return testWorkflow(
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("m", models.NodeTypeManualInput, map[string]any{"variable_name": "amount", "variable_value": 900}),
			node("a", models.NodeTypeApproval, map[string]any{"assigned_user_id": "user-7"}),
			node("o", models.NodeTypeOutput, nil),
		},
		[]*models.Connection{edge("t", "m"), edge("m", "a"), edge("a", "o")},
	)
}

func TestExecuteSuspendsAtApproval(t *testing.T) {
	engine, store := newTestEngine(t, nil, nil)

	execution, err := engine.Execute(context.Background(), approvalWorkflow(), models.TriggerTypeManual, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusAwaitingApproval, execution.Status)
	assert.Contains(t, execution.NodeOutputs, "m")
	assert.NotContains(t, execution.NodeOutputs, "a")
	assert.NotContains(t, execution.NodeOutputs, "o")

	approvals, err := store.ListApprovals(context.Background(), "org-1", models.ApprovalStatusPending)
	require.NoError(t, err)
	require.Len(t, approvals, 1)

	assert.Equal(t, execution.ID, approvals[0].ExecutionID)
	assert.Equal(t, "a", approvals[0].NodeID)
	assert.Equal(t, "user-7", approvals[0].AssignedUserID)
	assert.Equal(t, map[string]any{"amount": float64(900)}, approvals[0].InputPreview)
}

func TestResumeAfterApprovalApproved(t *testing.T) {
	engine, store := newTestEngine(t, nil, nil)

	suspended, err := engine.Execute(context.Background(), approvalWorkflow(), models.TriggerTypeManual, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusAwaitingApproval, suspended.Status)

	approvals, err := store.ListApprovals(context.Background(), "org-1", models.ApprovalStatusPending)
	require.NoError(t, err)
	require.Len(t, approvals, 1)

	resumed, err := engine.ResumeAfterApproval(context.Background(), approvals[0].ID, models.ApprovalDecisionApproved)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)

	// The gate passes its input through to downstream nodes.
	assert.Equal(t, map[string]any{"amount": float64(900)}, resumed.NodeOutputs["a"].Value)
	assert.Equal(t, map[string]any{"amount": float64(900)}, resumed.NodeOutputs["o"].Value)

	// Resolving twice is rejected.
	_, err = engine.ResumeAfterApproval(context.Background(), approvals[0].ID, models.ApprovalDecisionApproved)
	assert.ErrorIs(t, err, ErrApprovalResolved)
}

func TestResumeAfterApprovalRejected(t *testing.T) {
	engine, store := newTestEngine(t, nil, nil)

	suspended, err := engine.Execute(context.Background(), approvalWorkflow(), models.TriggerTypeManual, nil)
	require.NoError(t, err)

	approvals, err := store.ListApprovals(context.Background(), "org-1", models.ApprovalStatusPending)
	require.NoError(t, err)
	require.Len(t, approvals, 1)

	resumed, err := engine.ResumeAfterApproval(context.Background(), approvals[0].ID, models.ApprovalDecisionRejected)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, resumed.Status)
	assert.Equal(t, "a", resumed.FailedNodeID)
	assert.NotContains(t, resumed.NodeOutputs, "o")

	stored, err := store.ExecutionByID(context.Background(), suspended.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
}

func TestRunSingleNodeNeverTouchesLedger(t *testing.T) {
	engine, store := newTestEngine(t, nil, nil)

	workflow := testWorkflow(
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("f", models.NodeTypeAddField, map[string]any{"field_name": "tag", "field_value": "debug"}),
		},
		[]*models.Connection{edge("t", "f")},
	)

	value, err := engine.RunSingleNode(context.Background(), workflow, "f", map[string]any{"id": "r1"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"id": "r1", "tag": "debug"}, value)

	executions, err := store.ListExecutions(context.Background(), "wf-1", 0)
	require.NoError(t, err)
	assert.Empty(t, executions)

	_, err = engine.RunSingleNode(context.Background(), workflow, "missing", nil)
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = engine.RunSingleNode(context.Background(), approvalWorkflow(), "a", nil)
	assert.ErrorIs(t, err, ErrApprovalNodeDirect)
}

func TestExecuteFetchDataUsesDataSource(t *testing.T) {
	source := datasource.Static{
		"customers": {{"id": "1", "name": "ada"}, {"id": "2", "name": "grace"}},
	}

	engine, _ := newTestEngine(t, nil, source)

	workflow := testWorkflow(
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("fetch", models.NodeTypeFetchData, map[string]any{"entity_id": "customers"}),
			node("f", models.NodeTypeAddField, map[string]any{"field_name": "source", "field_value": "crm"}),
			node("o", models.NodeTypeOutput, nil),
		},
		[]*models.Connection{edge("t", "fetch"), edge("fetch", "f"), edge("f", "o")},
	)

	execution, err := engine.Execute(context.Background(), workflow, models.TriggerTypeManual, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	rows, ok := execution.NodeOutputs["o"].Value.([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Equal(t, "crm", rows[0]["source"])
}

func TestExecuteManualInputOverride(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	workflow := testWorkflow(
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("m", models.NodeTypeManualInput, map[string]any{"variable_name": "city", "variable_value": "lisbon"}),
			node("o", models.NodeTypeOutput, nil),
		},
		[]*models.Connection{edge("t", "m"), edge("m", "o")},
	)

	execution, err := engine.Execute(context.Background(), workflow, models.TriggerTypeManual,
		map[string]any{"m": "porto"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"city": "porto"}, execution.NodeOutputs["m"].Value)
}
