package handler

import (
	"context"
	"fmt"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

// SubDiagramRunner runs a nested graph to completion, the same way
// graph.Engine.Run does, and is supplied by whatever constructs the parent
// Engine (it typically closes over that same Engine, since sub_diagram
// recurses through the identical scheduler/handler/service wiring).
type SubDiagramRunner func(ctx context.Context, g *graph.Graph, execCtx *graph.ExecutionContext) (*graph.ExecutionContext, error)

// SubDiagramHandler recursively executes a nested diagram carried on the
// node's "diagram" property (a *graph.Graph) and surfaces its endpoint
// outputs as this node's output.
type SubDiagramHandler struct {
	Runner SubDiagramRunner
}

func (h *SubDiagramHandler) NodeType() graph.NodeType   { return graph.NodeSubDiagram }
func (h *SubDiagramHandler) RequiresServices() []string { return nil }

func (h *SubDiagramHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	if h.Runner == nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: "sub_diagram: no runner configured",
			Code:    graph.CodeUnknownHandler,
			NodeID:  node.ID,
		}
	}

	raw, ok := node.Prop("diagram")
	if !ok {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: "sub_diagram: node has no \"diagram\" property",
			Code:    graph.CodeValidationError,
			NodeID:  node.ID,
		}
	}
	sub, ok := raw.(*graph.Graph)
	if !ok || sub == nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: "sub_diagram: \"diagram\" property is not a *graph.Graph",
			Code:    graph.CodeValidationError,
			NodeID:  node.ID,
		}
	}

	subExecID := fmt.Sprintf("%s/%s", execCtx.ExecutionID, node.ID)
	subCtx := graph.NewExecutionContext(subExecID, sub)
	subCtx.Persons = execCtx.Persons
	subCtx.APIKeys = execCtx.APIKeys
	subCtx.Interactive = execCtx.Interactive
	for k, v := range inputs {
		subCtx.Outputs["__input_"+k] = graph.NodeOutput{NodeID: "__input_" + k, Value: v}
	}

	result, err := h.Runner(ctx, sub, subCtx)
	if err != nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("sub_diagram: %v", err),
			Code:    graph.CodeHandlerFailure,
			NodeID:  node.ID,
			Cause:   err,
		}
	}

	endpoints := make(map[string]any)
	for id, out := range result.Outputs {
		if n := sub.Nodes[id]; n != nil && n.Type == graph.NodeEndpoint {
			endpoints[id] = out.Value
		}
	}

	return graph.NodeOutput{NodeID: node.ID, Value: endpoints}, nil
}
