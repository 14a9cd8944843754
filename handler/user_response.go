package handler

import (
	"context"
	"fmt"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

// UserResponseHandler invokes the run's configured InteractiveHandler,
// surfacing the node's "prompt" property (or its default input) and
// returning the human operator's reply as the node's output.
type UserResponseHandler struct{}

func (h *UserResponseHandler) NodeType() graph.NodeType   { return graph.NodeUserResponse }
func (h *UserResponseHandler) RequiresServices() []string { return []string{ServiceInteractive} }

func (h *UserResponseHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	if execCtx.Interactive == nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: "user_response: no interactive handler configured for this run",
			Code:    graph.CodeUnknownService,
			NodeID:  node.ID,
		}
	}

	prompt := node.PropString("prompt")
	if prompt == "" {
		if s, ok := inputs["default"].(string); ok {
			prompt = s
		}
	}

	reply, err := execCtx.Interactive(ctx, node.ID, prompt, execCtx)
	if err != nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("user_response: %v", err),
			Code:    graph.CodeHandlerFailure,
			NodeID:  node.ID,
			Cause:   err,
		}
	}

	return graph.NodeOutput{NodeID: node.ID, Value: reply}, nil
}
