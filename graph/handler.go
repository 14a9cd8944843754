package graph

import "context"

// Handler implements the behavior of one NodeType. Handlers are stateless
// values keyed by NodeType in a HandlerRegistry — there is no inheritance,
// favoring small interfaces over class hierarchies.
type Handler interface {
	// NodeType is the diagram node type this handler serves.
	NodeType() NodeType

	// RequiresServices lists the service-registry keys this handler needs
	// (e.g. "llm_service", "file_service"). The engine resolves them from
	// the Services map before Execute is called.
	RequiresServices() []string

	// Execute runs the node given its already-resolved, already-transformed
	// inputs (see the transform package) and the services it declared.
	Execute(ctx context.Context, node *Node, execCtx *ExecutionContext, inputs map[string]any, services Services) (NodeOutput, error)
}

// Services is a name -> implementation lookup resolved once per Engine and
// handed to every Handler invocation. Concrete service types (an LLM
// client, a file writer, a key/value store) are opaque to the engine; only
// handlers know how to type-assert the ones they declared.
type Services map[string]any

// HandlerRegistry maps a NodeType to the Handler that serves it.
type HandlerRegistry struct {
	handlers map[NodeType]Handler
}

// NewHandlerRegistry builds an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[NodeType]Handler)}
}

// Register adds a handler, keyed by its own NodeType().
func (r *HandlerRegistry) Register(h Handler) {
	r.handlers[h.NodeType()] = h
}

// Lookup returns the handler for a NodeType, or nil if none is registered.
func (r *HandlerRegistry) Lookup(t NodeType) Handler {
	return r.handlers[t]
}
