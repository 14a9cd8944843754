package handler

import (
	"context"
	"fmt"

	"github.com/sorryhyun/dipeo-engine-go/graph"
	"github.com/sorryhyun/dipeo-engine-go/graph/tool"
)

// APIJobHandler issues an outbound HTTP call via tool.HTTPTool, built from
// the node's method/url/headers/body properties overlaid with the resolved
// inputs under the same keys.
type APIJobHandler struct {
	http tool.Tool
}

// NewAPIJobHandler builds an APIJobHandler backed by the given Tool (nil
// defaults to a fresh tool.HTTPTool).
func NewAPIJobHandler(t tool.Tool) *APIJobHandler {
	if t == nil {
		t = tool.NewHTTPTool()
	}
	return &APIJobHandler{http: t}
}

func (h *APIJobHandler) NodeType() graph.NodeType   { return graph.NodeAPIJob }
func (h *APIJobHandler) RequiresServices() []string { return nil }

func (h *APIJobHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	httpTool := h.http
	if httpTool == nil {
		httpTool = tool.NewHTTPTool()
	}

	call := map[string]any{
		"method":  node.PropString("method"),
		"url":     node.PropString("url"),
		"headers": node.Properties["headers"],
		"body":    node.PropString("body"),
	}
	for _, k := range []string{"method", "url", "headers", "body"} {
		if v, ok := inputs[k]; ok {
			call[k] = v
		}
	}

	result, err := httpTool.Call(ctx, call)
	if err != nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("api_job: %v", err),
			Code:    graph.CodeHandlerFailure,
			NodeID:  node.ID,
			Cause:   err,
		}
	}

	return graph.NodeOutput{NodeID: node.ID, Value: result}, nil
}
