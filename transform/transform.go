// Package transform implements the arrow-driven content-type strategies:
// pure functions that turn an upstream node's output value into the shape
// a downstream node expects. The package
// is intentionally independent of the graph package's Arrow/NodeOutput
// types — it operates on plain `any` values and string content-type keys —
// so the engine can call into it without a package import cycle.
package transform

import "fmt"

// Content-type keys, mirrored from graph.ContentType so callers can use
// either package's constants interchangeably.
const (
	RawText           = "raw_text"
	ConversationState = "conversation_state"
	Variable          = "variable"
	JSON              = "json"
	Template          = "template"
	Aggregation       = "aggregation"
	Filter            = "filter"
	ErrorHandling     = "error_handling"
)

// Context carries the ambient values a transform strategy may reference:
// the arrow's own label/data, and the producing node's id and metadata.
type Context struct {
	ArrowLabel   string
	ArrowData    map[string]any
	SourceNodeID string
	SourceMeta   map[string]any
}

// Apply runs the strategy named by contentType against value. An empty
// contentType is treated as RawText; an unrecognized one returns an error.
func Apply(contentType string, value any, tctx Context) (any, error) {
	switch contentType {
	case "", RawText:
		return rawText(value), nil
	case ConversationState:
		return conversationState(value), nil
	case Variable:
		return value, nil
	case JSON:
		return jsonTransform(value, tctx.ArrowData)
	case Template:
		return templateTransform(value, tctx)
	case Aggregation:
		return aggregationTransform(value, tctx.ArrowData)
	case Filter:
		return filterTransform(value, tctx.ArrowData)
	case ErrorHandling:
		return errorHandlingTransform(value, tctx)
	default:
		return nil, fmt.Errorf("transform: unknown content type %q", contentType)
	}
}

func rawText(value any) any {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case []any, map[string]any:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
