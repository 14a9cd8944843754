package handler

import (
	"context"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

// StartHandler emits a diagram's configured literal or seed value. A start
// node has no incoming arrows, so its output is whatever "value" its
// properties declare, or nil.
type StartHandler struct{}

func (h *StartHandler) NodeType() graph.NodeType   { return graph.NodeStart }
func (h *StartHandler) RequiresServices() []string { return nil }

func (h *StartHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	val, _ := node.Prop("value")
	return graph.NodeOutput{NodeID: node.ID, Value: val}, nil
}
