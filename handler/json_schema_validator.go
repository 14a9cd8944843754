package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

// JSONSchemaValidatorHandler validates a node's resolved default input
// against the JSON Schema document in its "schema" property (a JSON
// string), returning pass/fail plus a flattened list of violation messages
// in metadata. The input value is round-tripped through encoding/json
// first so Go-native numeric/struct types line up with the JSON types the
// schema was written against.
type JSONSchemaValidatorHandler struct{}

func (h *JSONSchemaValidatorHandler) NodeType() graph.NodeType   { return graph.NodeJSONSchemaValidator }
func (h *JSONSchemaValidatorHandler) RequiresServices() []string { return nil }

func (h *JSONSchemaValidatorHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	schemaText := node.PropString("schema")
	if schemaText == "" {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: "json_schema_validator: node has no \"schema\" property",
			Code:    graph.CodeValidationError,
			NodeID:  node.ID,
		}
	}

	compiled, err := jsonschema.CompileString(node.ID+"-schema.json", schemaText)
	if err != nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("json_schema_validator: invalid schema: %v", err),
			Code:    graph.CodeValidationError,
			NodeID:  node.ID,
			Cause:   err,
		}
	}

	instance, err := normalizeJSONValue(inputs["default"])
	if err != nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("json_schema_validator: input is not JSON-serializable: %v", err),
			Code:    graph.CodeValidationError,
			NodeID:  node.ID,
			Cause:   err,
		}
	}

	if valErr := compiled.Validate(instance); valErr != nil {
		violations := flattenValidationError(valErr)
		return graph.NodeOutput{
			NodeID: node.ID,
			Value:  false,
			Metadata: map[string]any{
				"valid":      false,
				"violations": violations,
			},
		}, nil
	}

	return graph.NodeOutput{
		NodeID:   node.ID,
		Value:    true,
		Metadata: map[string]any{"valid": true},
	}, nil
}

func normalizeJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// flattenValidationError collects every leaf message from a
// jsonschema.ValidationError's cause tree into a flat slice, since the
// node's metadata is a plain list rather than the library's nested shape.
func flattenValidationError(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var messages []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			messages = append(messages, e.Error())
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return messages
}
