package graph

import (
	"context"
	"sync/atomic"
)

// echoHandler is a minimal Handler that copies its inputs (or a fixed value)
// through to its output, used across engine-integration tests as a stand-in
// for a real diagram node.
type echoHandler struct {
	nodeType NodeType
	value    any
	calls    atomic.Int32
	fn       func(ctx context.Context, n *Node, execCtx *ExecutionContext, inputs map[string]any) (NodeOutput, error)
}

func newEchoHandler(ty NodeType, value any) *echoHandler {
	return &echoHandler{nodeType: ty, value: value}
}

func (h *echoHandler) NodeType() NodeType         { return h.nodeType }
func (h *echoHandler) RequiresServices() []string { return nil }

func (h *echoHandler) Execute(ctx context.Context, n *Node, execCtx *ExecutionContext, inputs map[string]any, services Services) (NodeOutput, error) {
	h.calls.Add(1)
	if h.fn != nil {
		return h.fn(ctx, n, execCtx, inputs)
	}
	val := h.value
	if val == nil {
		val = inputs
	}
	return NodeOutput{NodeID: n.ID, Value: val}, nil
}

// failHandler always fails with a fixed error, to exercise retry/deadlock paths.
type failHandler struct {
	nodeType NodeType
	err      error
	calls    atomic.Int32
}

func (h *failHandler) NodeType() NodeType         { return h.nodeType }
func (h *failHandler) RequiresServices() []string { return nil }

func (h *failHandler) Execute(ctx context.Context, n *Node, execCtx *ExecutionContext, inputs map[string]any, services Services) (NodeOutput, error) {
	h.calls.Add(1)
	return NodeOutput{}, h.err
}

// flakyHandler fails its first failAttempts calls, then succeeds.
type flakyHandler struct {
	nodeType     NodeType
	failAttempts int32
	calls        atomic.Int32
	err          error
}

func (h *flakyHandler) NodeType() NodeType         { return h.nodeType }
func (h *flakyHandler) RequiresServices() []string { return nil }

func (h *flakyHandler) Execute(ctx context.Context, n *Node, execCtx *ExecutionContext, inputs map[string]any, services Services) (NodeOutput, error) {
	attempt := h.calls.Add(1)
	if attempt <= h.failAttempts {
		return NodeOutput{}, h.err
	}
	return NodeOutput{NodeID: n.ID, Value: "recovered"}, nil
}

// conditionHandler evaluates a fixed boolean and sets CondVal for the node.
type conditionHandler struct {
	result func(inputs map[string]any) bool
}

func (h *conditionHandler) NodeType() NodeType         { return NodeCondition }
func (h *conditionHandler) RequiresServices() []string { return nil }

func (h *conditionHandler) Execute(ctx context.Context, n *Node, execCtx *ExecutionContext, inputs map[string]any, services Services) (NodeOutput, error) {
	ok := h.result(inputs)
	return NodeOutput{
		NodeID:   n.ID,
		Value:    ok,
		Metadata: map[string]any{"conditionResult": ok},
	}, nil
}

// buildLinearGraph constructs a 3-node start -> mid -> end chain.
func buildLinearGraph(t interface{ Fatalf(string, ...any) }) *Graph {
	nodes := []*Node{
		{ID: "start", Type: NodeStart},
		{ID: "mid", Type: NodeCodeJob},
		{ID: "end", Type: NodeEndpoint},
	}
	arrows := []*Arrow{
		{ID: "a1", Source: HandleRef{NodeID: "start"}, Target: HandleRef{NodeID: "mid"}},
		{ID: "a2", Source: HandleRef{NodeID: "mid"}, Target: HandleRef{NodeID: "end"}},
	}
	g, err := BuildGraph(nodes, arrows)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	return g
}
