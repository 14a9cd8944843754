package handler

import (
	"context"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

// ConditionHandler evaluates a node's condition_type property: "expression"
// runs evalExpression against a restricted environment built from inputs,
// the node's own execution count, and flattened upstream outputs;
// "detect_max_iterations" reports whether every predecessor declaring a
// max_iteration bound has reached it.
type ConditionHandler struct{}

func (h *ConditionHandler) NodeType() graph.NodeType   { return graph.NodeCondition }
func (h *ConditionHandler) RequiresServices() []string { return nil }

func (h *ConditionHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	condType := node.PropString("condition_type")
	if condType == "" {
		condType = "expression"
	}

	var result bool
	var evalErr error

	switch condType {
	case "detect_max_iterations":
		result = h.detectMaxIterations(node, execCtx)
	default:
		expr := node.PropString("expression")
		env := buildConditionEnv(inputs, execCtx, node.ID)
		result, evalErr = evalExpression(expr, env)
		if evalErr != nil {
			result = false
		}
	}

	meta := map[string]any{"conditionResult": result}
	if evalErr != nil {
		meta["error"] = evalErr.Error()
	}
	return graph.NodeOutput{NodeID: node.ID, Value: result, Metadata: meta}, nil
}

// buildConditionEnv assembles the restricted lookup environment: inputs
// take precedence, then the node's own exec count, then flattened upstream
// outputs by node id.
func buildConditionEnv(inputs map[string]any, execCtx *graph.ExecutionContext, nodeID string) map[string]any {
	env := make(map[string]any, len(inputs)+len(execCtx.Outputs)+1)
	for id, v := range execCtx.FlattenedOutputs() {
		env[id] = v
	}
	env["exec_count"] = float64(execCtx.ExecCount[nodeID])
	for k, v := range inputs {
		env[k] = v
	}
	return env
}

// detectMaxIterations returns true iff every predecessor declaring a
// max_iteration bound has reached it. A predecessor with no such bound is
// ignored; if no predecessor declares one at all, the result is false (an
// undeclared loop never auto-terminates this way).
func (h *ConditionHandler) detectMaxIterations(node *graph.Node, execCtx *graph.ExecutionContext) bool {
	arrows := execCtx.Graph.Incoming[node.ID]
	sawBound := false
	for _, a := range arrows {
		pred := execCtx.Graph.Nodes[a.Source.NodeID]
		if pred == nil {
			continue
		}
		max := pred.MaxIteration()
		if max <= 0 {
			continue
		}
		sawBound = true
		if execCtx.ExecCount[pred.ID] < max {
			return false
		}
	}
	return sawBound
}
