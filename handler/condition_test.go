package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

func emptyGraph() *graph.Graph {
	return &graph.Graph{Nodes: map[string]*graph.Node{}, Incoming: map[string][]*graph.Arrow{}}
}

func TestConditionHandler_ExpressionEvaluation(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	node := &graph.Node{ID: "cond", Type: graph.NodeCondition, Properties: map[string]any{
		"condition_type": "expression",
		"expression":     "score >= 80",
	}}

	h := &ConditionHandler{}
	out, err := h.Execute(context.Background(), node, execCtx, map[string]any{"score": 95.0}, nil)
	require.NoError(t, err)
	require.Equal(t, true, out.Value)
	require.True(t, out.MetaBool("conditionResult"))
}

func TestConditionHandler_EvaluationFailureRecordsErrorAndReturnsFalse(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	node := &graph.Node{ID: "cond", Type: graph.NodeCondition, Properties: map[string]any{
		"expression": "1 +",
	}}

	h := &ConditionHandler{}
	out, err := h.Execute(context.Background(), node, execCtx, nil, nil)
	require.NoError(t, err, "a malformed expression is reported in metadata, not as a handler error")
	require.Equal(t, false, out.Value)
	require.NotNil(t, out.Metadata["error"])
}

func TestConditionHandler_DetectMaxIterations(t *testing.T) {
	nodes := []*graph.Node{
		{ID: "start", Type: graph.NodeStart},
		{ID: "loop-body", Type: graph.NodeCodeJob, Properties: map[string]any{"max_iteration": 3}},
		{ID: "cond", Type: graph.NodeCondition, Properties: map[string]any{"condition_type": "detect_max_iterations"}},
	}
	arrows := []*graph.Arrow{
		{ID: "a1", Source: graph.HandleRef{NodeID: "start"}, Target: graph.HandleRef{NodeID: "loop-body"}},
		{ID: "a2", Source: graph.HandleRef{NodeID: "loop-body"}, Target: graph.HandleRef{NodeID: "cond"}},
	}
	g, err := graph.BuildGraph(nodes, arrows)
	require.NoError(t, err)
	execCtx := graph.NewExecutionContext("run-1", g)

	h := &ConditionHandler{}
	condNode := g.Nodes["cond"]

	execCtx.ExecCount["loop-body"] = 2
	out, err := h.Execute(context.Background(), condNode, execCtx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, false, out.Value, "should not fire before the bound is reached")

	execCtx.ExecCount["loop-body"] = 3
	out, err = h.Execute(context.Background(), condNode, execCtx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, true, out.Value, "should fire once every bounded predecessor reached its max_iteration")
}

func TestConditionHandler_DetectMaxIterationsWithNoBoundIsFalse(t *testing.T) {
	nodes := []*graph.Node{
		{ID: "start", Type: graph.NodeStart},
		{ID: "cond", Type: graph.NodeCondition, Properties: map[string]any{"condition_type": "detect_max_iterations"}},
	}
	arrows := []*graph.Arrow{
		{ID: "a1", Source: graph.HandleRef{NodeID: "start"}, Target: graph.HandleRef{NodeID: "cond"}},
	}
	g, err := graph.BuildGraph(nodes, arrows)
	require.NoError(t, err)
	execCtx := graph.NewExecutionContext("run-1", g)

	h := &ConditionHandler{}
	out, err := h.Execute(context.Background(), g.Nodes["cond"], execCtx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, false, out.Value)
}
