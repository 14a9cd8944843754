package handler

import (
	"context"
	"fmt"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

// EndpointHandler terminates a branch, optionally writing its resolved
// input to a file via the injected FileService when the node declares
// save_to_file and file_path properties. Without those properties it is a
// pure terminus: it just returns its input back out as its output.
type EndpointHandler struct{}

func (h *EndpointHandler) NodeType() graph.NodeType   { return graph.NodeEndpoint }
func (h *EndpointHandler) RequiresServices() []string { return []string{ServiceFile} }

func (h *EndpointHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	val := any(inputs)
	if v, ok := inputs["default"]; ok {
		val = v
	}

	if !truthyProp(node.Properties, "save_to_file") {
		return graph.NodeOutput{NodeID: node.ID, Value: val}, nil
	}

	path := node.PropString("file_path")
	if path == "" {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: "endpoint: save_to_file set without a file_path",
			Code:    graph.CodeValidationError,
			NodeID:  node.ID,
		}
	}

	fs, ok := services[ServiceFile].(FileService)
	if !ok || fs == nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: "endpoint: no file_service configured",
			Code:    graph.CodeUnknownService,
			NodeID:  node.ID,
		}
	}

	content := fmt.Sprintf("%v", val)
	if err := fs.WriteFile(path, []byte(content)); err != nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("endpoint: writing %s: %v", path, err),
			Code:    graph.CodeHandlerFailure,
			NodeID:  node.ID,
			Cause:   err,
		}
	}

	return graph.NodeOutput{NodeID: node.ID, Value: val, Metadata: map[string]any{"written_to": path}}, nil
}
