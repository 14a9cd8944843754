package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

// HookFunc is a registered in-process callback, the local analogue of an
// external webhook: given a node's resolved inputs, it returns the value to
// use as the node's output.
type HookFunc func(ctx context.Context, inputs map[string]any) (any, error)

// HookHandler dispatches to a HookFunc registered under the node's "hook"
// property name. Hooks are registered once at startup and looked up under a
// read-mostly mutex.
type HookHandler struct {
	mu    sync.RWMutex
	hooks map[string]HookFunc
}

func NewHookHandler() *HookHandler {
	return &HookHandler{hooks: make(map[string]HookFunc)}
}

// RegisterHook adds or replaces a named callback.
func (h *HookHandler) RegisterHook(name string, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[name] = fn
}

func (h *HookHandler) NodeType() graph.NodeType   { return graph.NodeHook }
func (h *HookHandler) RequiresServices() []string { return nil }

func (h *HookHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	name := node.PropString("hook")
	h.mu.RLock()
	fn, ok := h.hooks[name]
	h.mu.RUnlock()
	if !ok {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("hook: no callback registered under %q", name),
			Code:    graph.CodeUnknownHandler,
			NodeID:  node.ID,
		}
	}

	val, err := fn(ctx, inputs)
	if err != nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("hook %q: %v", name, err),
			Code:    graph.CodeHandlerFailure,
			NodeID:  node.ID,
			Cause:   err,
		}
	}
	return graph.NodeOutput{NodeID: node.ID, Value: val}, nil
}
