package engine

import (
	"context"
	"testing"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/node"
	"github.com/flowcraft/engine/internal/provider"
	"github.com/flowcraft/engine/internal/retry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upperHandler() node.HandlerFunc {
	return func(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (node.Result, error) {
		s, _ := ec.Input.(string)
		return node.Result{Output: s + "!"}, nil
	}
}

func failingHandler(kind retry.ErrorKind) node.HandlerFunc {
	return func(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (node.Result, error) {
		return node.Result{}, retry.New(kind, n.ID, "boom", nil)
	}
}

func newTestRegistry() *node.Registry {
	reg := node.NewRegistry()
	reg.Register(domain.NodeTypeStart, node.StartHandler{})
	reg.Register(domain.NodeTypeOutput, &node.OutputHandler{})
	reg.Register(domain.NodeTypeTool, upperHandler())
	return reg
}

func TestScheduler_SimpleChainProducesOutput(t *testing.T) {
	wf := &domain.Workflow{
		ID: "wf1",
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "tool1", Type: domain.NodeTypeTool},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "tool1"},
			{ID: "e2", Source: "tool1", Target: "out"},
		},
	}
	s := NewScheduler(wf, newTestRegistry(), zerolog.Nop())
	res, err := s.Run(context.Background(), "run1", "hi")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, res.Status)
	assert.Equal(t, "hi!", res.Outputs["out"])
}

func TestScheduler_RouterSelectsHandle(t *testing.T) {
	reg := newTestRegistry()
	reg.Register(domain.NodeTypeRouter, node.NewRouterHandler(nil))
	wf := &domain.Workflow{
		ID: "wf1",
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "router", Type: domain.NodeTypeRouter, Data: map[string]any{
				"routes":  []map[string]any{{"handle": "big", "condition": "input == \"hi\""}},
				"default": "small",
			}},
			{ID: "outBig", Type: domain.NodeTypeOutput},
			{ID: "outSmall", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "router"},
			{ID: "e2", Source: "router", Target: "outBig", SourceHandle: "big"},
			{ID: "e3", Source: "router", Target: "outSmall", SourceHandle: "small"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	res, err := s.Run(context.Background(), "run1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Outputs["outBig"])
	_, hasSmall := res.Outputs["outSmall"]
	assert.False(t, hasSmall)
}

func TestScheduler_StopModeHaltsRunOnError(t *testing.T) {
	reg := newTestRegistry()
	reg.Register(domain.NodeTypeMemory, failingHandler(retry.KindValidation))
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "bad", Type: domain.NodeTypeMemory},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "bad"},
			{ID: "e2", Source: "bad", Target: "out"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	res, err := s.Run(context.Background(), "run1", "x")
	require.Error(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, res.Status)
	_, reached := res.Outputs["out"]
	assert.False(t, reached)
}

func TestScheduler_ContinueModeSkipsFailedBranch(t *testing.T) {
	reg := newTestRegistry()
	reg.Register(domain.NodeTypeMemory, failingHandler(retry.KindValidation))
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "other", Type: domain.NodeTypeTool},
			{ID: "bad", Type: domain.NodeTypeMemory, Data: map[string]any{
				"errorHandling": map[string]any{"mode": "continue"},
			}},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "other"},
			{ID: "e2", Source: "other", Target: "bad"},
			{ID: "e3", Source: "bad", Target: "out"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	res, err := s.Run(context.Background(), "run1", "x")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, res.Status)
	require.Contains(t, res.NodeErrors, "bad")
	_, reachedOut := res.Outputs["out"]
	assert.False(t, reachedOut, "continue mode does not propagate the failed node's output further")
}

func TestScheduler_MissingStartNodeIsValidationError(t *testing.T) {
	wf := &domain.Workflow{Nodes: []domain.Node{{ID: "out", Type: domain.NodeTypeOutput}}}
	s := NewScheduler(wf, newTestRegistry(), zerolog.Nop())
	_, err := s.Run(context.Background(), "run1", "x")
	require.Error(t, err)
	var execErr *retry.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, retry.KindValidation, execErr.Kind)
}

func TestScheduler_ParallelSettledJoinCollectsAllBranches(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "par", Type: domain.NodeTypeParallel, Data: map[string]any{"strategy": "settled"}},
			{ID: "branchA", Type: domain.NodeTypeTool},
			{ID: "branchB", Type: domain.NodeTypeTool},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "par"},
			{ID: "e2", Source: "par", Target: "branchA", SourceHandle: "a"},
			{ID: "e3", Source: "par", Target: "branchB", SourceHandle: "b"},
			{ID: "e4", Source: "par", Target: "out"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	res, err := s.Run(context.Background(), "run1", "x")
	require.NoError(t, err)
	merged, ok := res.Outputs["out"].(string)
	require.True(t, ok)
	assert.Contains(t, merged, "a: x!")
	assert.Contains(t, merged, "b: x!")
}

func TestScheduler_ParallelEmitsBranchStartAndCompleteCallbacks(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "par", Type: domain.NodeTypeParallel},
			{ID: "branchA", Type: domain.NodeTypeTool},
			{ID: "branchB", Type: domain.NodeTypeTool},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "par"},
			{ID: "e2", Source: "par", Target: "branchA", SourceHandle: "a"},
			{ID: "e3", Source: "par", Target: "branchB", SourceHandle: "b"},
			{ID: "e4", Source: "par", Target: "out"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	var starts, completes []string
	s.Callbacks.OnBranchStart = func(nodeID, branchID, branchLabel string) {
		starts = append(starts, branchID)
	}
	s.Callbacks.OnBranchComplete = func(nodeID, branchID string, output any, err *retry.ExecutionError) {
		completes = append(completes, branchID)
	}
	res, err := s.Run(context.Background(), "run1", "x")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, res.Status)
	assert.ElementsMatch(t, []string{"a", "b"}, starts)
	assert.ElementsMatch(t, []string{"a", "b"}, completes)
}

func TestScheduler_ParallelMergeDisabledRoutesBranchesIndependently(t *testing.T) {
	reg := newTestRegistry()
	var seen []any
	reg.Register(domain.NodeTypeOutput, node.HandlerFunc(func(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (node.Result, error) {
		seen = append(seen, ec.Input)
		return node.Result{Output: ec.Input}, nil
	}))
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "par", Type: domain.NodeTypeParallel, Data: map[string]any{"mergeEnabled": false}},
			{ID: "branchA", Type: domain.NodeTypeTool},
			{ID: "branchB", Type: domain.NodeTypeTool},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "par"},
			{ID: "e2", Source: "par", Target: "branchA", SourceHandle: "a"},
			{ID: "e3", Source: "par", Target: "branchB", SourceHandle: "b"},
			{ID: "e4", Source: "par", Target: "out"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	res, err := s.Run(context.Background(), "run1", "x")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, res.Status)
	assert.ElementsMatch(t, []any{"x!", "x!"}, seen)
}

func TestScheduler_ParallelSettledJoinIsolatesBranchFailure(t *testing.T) {
	reg := newTestRegistry()
	reg.Register(domain.NodeTypeMemory, failingHandler(retry.KindValidation))
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "par", Type: domain.NodeTypeParallel},
			{ID: "branchA", Type: domain.NodeTypeTool},
			{ID: "branchB", Type: domain.NodeTypeMemory},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "par"},
			{ID: "e2", Source: "par", Target: "branchA", SourceHandle: "a"},
			{ID: "e3", Source: "par", Target: "branchB", SourceHandle: "b"},
			{ID: "e4", Source: "par", Target: "out"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	res, err := s.Run(context.Background(), "run1", "x")
	require.NoError(t, err, "settled join must not fail the whole run on one branch error")
	merged := res.Outputs["out"].(string)
	assert.Contains(t, merged, "a: x!")
	assert.Contains(t, merged, "boom")
}

func TestScheduler_WhileLoopFixedModeRunsBoundedIterations(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "loop", Type: domain.NodeTypeWhileLoop, Data: map[string]any{
				"mode": "fixed", "maxIterations": 3, "bodyHandle": "body", "exitHandle": "exit",
			}},
			{ID: "body", Type: domain.NodeTypeTool},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "loop"},
			{ID: "e2", Source: "loop", Target: "body", SourceHandle: "body"},
			{ID: "e3", Source: "body", Target: "loop"},
			{ID: "e4", Source: "loop", Target: "out", SourceHandle: "exit"},
		},
	}
	var bodyRuns int
	reg.Register(domain.NodeTypeTool, node.HandlerFunc(func(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (node.Result, error) {
		bodyRuns++
		s, _ := ec.Input.(string)
		return node.Result{Output: s + "x"}, nil
	}))
	s := NewScheduler(wf, reg, zerolog.Nop())
	res, err := s.Run(context.Background(), "run1", "")
	require.NoError(t, err)
	assert.Equal(t, 3, bodyRuns)
	assert.Equal(t, "xxx", res.Outputs["out"])
}

func TestScheduler_WhileLoopFixedModeZeroIterationsOutputsArrivalInput(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "loop", Type: domain.NodeTypeWhileLoop, Data: map[string]any{
				"mode": "fixed", "maxIterations": 0, "bodyHandle": "body", "exitHandle": "exit",
			}},
			{ID: "body", Type: domain.NodeTypeTool},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "loop"},
			{ID: "e2", Source: "loop", Target: "body", SourceHandle: "body"},
			{ID: "e3", Source: "body", Target: "loop"},
			{ID: "e4", Source: "loop", Target: "out", SourceHandle: "exit"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	res, err := s.Run(context.Background(), "run1", "arrival")
	require.NoError(t, err)
	assert.Equal(t, "arrival", res.Outputs["out"])
}

func TestScheduler_WhileLoopAccumulateModeJoinsBodyOutputs(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "loop", Type: domain.NodeTypeWhileLoop, Data: map[string]any{
				"mode": "fixed", "maxIterations": 2, "bodyHandle": "body", "exitHandle": "exit", "outputMode": "accumulate",
			}},
			{ID: "body", Type: domain.NodeTypeTool},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "loop"},
			{ID: "e2", Source: "loop", Target: "body", SourceHandle: "body"},
			{ID: "e3", Source: "body", Target: "loop"},
			{ID: "e4", Source: "loop", Target: "out", SourceHandle: "exit"},
		},
	}
	reg.Register(domain.NodeTypeTool, node.HandlerFunc(func(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (node.Result, error) {
		s, _ := ec.Input.(string)
		return node.Result{Output: s + "x"}, nil
	}))
	s := NewScheduler(wf, reg, zerolog.Nop())
	res, err := s.Run(context.Background(), "run1", "")
	require.NoError(t, err)
	joined, ok := res.Outputs["out"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"x", "xx"}, joined)
}

func TestScheduler_WhileLoopAccumulateModeZeroIterationsOutputsEmptyString(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "loop", Type: domain.NodeTypeWhileLoop, Data: map[string]any{
				"mode": "fixed", "maxIterations": 0, "bodyHandle": "body", "exitHandle": "exit", "outputMode": "accumulate",
			}},
			{ID: "body", Type: domain.NodeTypeTool},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "loop"},
			{ID: "e2", Source: "loop", Target: "body", SourceHandle: "body"},
			{ID: "e3", Source: "body", Target: "loop"},
			{ID: "e4", Source: "loop", Target: "out", SourceHandle: "exit"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	res, err := s.Run(context.Background(), "run1", "arrival")
	require.NoError(t, err)
	assert.Equal(t, "", res.Outputs["out"])
}

func TestScheduler_WhileLoopConditionModeUsesProviderAndStopsAfterExactCount(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "loop", Type: domain.NodeTypeWhileLoop, Data: map[string]any{
				"mode": "condition", "conditionPrompt": "keep going?", "maxIterations": 10,
				"bodyHandle": "body", "exitHandle": "exit",
			}},
			{ID: "body", Type: domain.NodeTypeTool},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "loop"},
			{ID: "e2", Source: "loop", Target: "body", SourceHandle: "body"},
			{ID: "e3", Source: "body", Target: "loop"},
			{ID: "e4", Source: "loop", Target: "out", SourceHandle: "exit"},
		},
	}
	var bodyRuns int
	reg.Register(domain.NodeTypeTool, node.HandlerFunc(func(ctx context.Context, ec *domain.ExecutionContext, n domain.Node) (node.Result, error) {
		bodyRuns++
		s, _ := ec.Input.(string)
		return node.Result{Output: s + "x"}, nil
	}))
	mock := provider.NewMockProvider(
		provider.ChatResponse{Content: "Yes, continue."},
		provider.ChatResponse{Content: "yes"},
		provider.ChatResponse{Content: "No more needed."},
	)
	s := NewScheduler(wf, reg, zerolog.Nop())
	s.Provider = mock
	res, err := s.Run(context.Background(), "run1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, bodyRuns)
	assert.Equal(t, "xx", res.Outputs["out"])
	assert.Len(t, mock.Calls(), 3)
}

func TestScheduler_WhileLoopOnMaxIterationsErrorRaisesClassifiedError(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "loop", Type: domain.NodeTypeWhileLoop, Data: map[string]any{
				"mode": "condition", "conditionPrompt": "keep going?", "maxIterations": 1,
				"onMaxIterations": "error", "bodyHandle": "body", "exitHandle": "exit",
			}},
			{ID: "body", Type: domain.NodeTypeTool},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "loop"},
			{ID: "e2", Source: "loop", Target: "body", SourceHandle: "body"},
			{ID: "e3", Source: "body", Target: "loop"},
			{ID: "e4", Source: "loop", Target: "out", SourceHandle: "exit"},
		},
	}
	mock := provider.NewMockProvider(provider.ChatResponse{Content: "yes"})
	s := NewScheduler(wf, reg, zerolog.Nop())
	s.Provider = mock
	_, err := s.Run(context.Background(), "run1", "")
	require.Error(t, err)
	var execErr *retry.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, retry.KindExtensionValidation, execErr.Kind)
}

func TestScheduler_IterationCapStopsRunawayCycle(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "a", Type: domain.NodeTypeTool},
			{ID: "b", Type: domain.NodeTypeTool},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
			{ID: "e3", Source: "b", Target: "a"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	s.MaxIterations = 50
	res, err := s.Run(context.Background(), "run1", "x")
	require.Error(t, err)
	var execErr *retry.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, retry.KindExtensionValidation, execErr.Kind)
	assert.Equal(t, domain.ExecutionStatusFailed, res.Status)
}

func TestScheduler_SubflowRunsNestedWorkflow(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "sub", Type: domain.NodeTypeSubflow, Data: map[string]any{"workflowId": "child"}},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "sub"},
			{ID: "e2", Source: "sub", Target: "out"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	s.RunSubflow = func(ctx context.Context, workflowID string, ec *domain.ExecutionContext) (any, error) {
		assert.Equal(t, "child", workflowID)
		return "nested-result", nil
	}
	res, err := s.Run(context.Background(), "run1", "x")
	require.NoError(t, err)
	assert.Equal(t, "nested-result", res.Outputs["out"])
}

func TestScheduler_SubflowDepthBoundIsEnforced(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "sub", Type: domain.NodeTypeSubflow, Data: map[string]any{"workflowId": "child"}},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "sub"},
			{ID: "e2", Source: "sub", Target: "out"},
		},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	s.MaxSubflowDepth = 0
	s.RunSubflow = func(ctx context.Context, workflowID string, ec *domain.ExecutionContext) (any, error) {
		return "unreachable", nil
	}
	_, err := s.Run(context.Background(), "run1", "x")
	require.Error(t, err)
}

func TestScheduler_CancelledContextStopsRun(t *testing.T) {
	reg := newTestRegistry()
	wf := &domain.Workflow{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart},
			{ID: "out", Type: domain.NodeTypeOutput},
		},
		Edges: []domain.Edge{{ID: "e1", Source: "start", Target: "out"}},
	}
	s := NewScheduler(wf, reg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Run(ctx, "run1", "x")
	require.Error(t, err)
	assert.Equal(t, domain.ExecutionStatusCancelled, res.Status)
}
