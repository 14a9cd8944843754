package handler

import (
	"context"
	"fmt"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

// DBHandler performs a read-only key lookup against an injected
// MemoryService, standing in for an external database integration. The key
// is the node's "key" property, or the node's own default input value when
// absent.
type DBHandler struct{}

func (h *DBHandler) NodeType() graph.NodeType   { return graph.NodeDB }
func (h *DBHandler) RequiresServices() []string { return []string{ServiceMemory} }

func (h *DBHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	mem, ok := services[ServiceMemory].(MemoryService)
	if !ok || mem == nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: "db: no memory_service configured",
			Code:    graph.CodeUnknownService,
			NodeID:  node.ID,
		}
	}

	key := node.PropString("key")
	if key == "" {
		if s, ok := inputs["default"].(string); ok {
			key = s
		}
	}
	if key == "" {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: "db: no key to look up",
			Code:    graph.CodeValidationError,
			NodeID:  node.ID,
		}
	}

	val, found := mem.Get(key)
	if !found {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("db: key %q not found", key),
			Code:    graph.CodeHandlerFailure,
			NodeID:  node.ID,
		}
	}

	return graph.NodeOutput{NodeID: node.ID, Value: val, Metadata: map[string]any{"key": key}}, nil
}
