package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

const testPersonSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer", "minimum": 0}
	},
	"required": ["name", "age"]
}`

func TestJSONSchemaValidatorHandler_ValidInstancePasses(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	node := &graph.Node{ID: "v", Type: graph.NodeJSONSchemaValidator, Properties: map[string]any{"schema": testPersonSchema}}

	h := &JSONSchemaValidatorHandler{}
	out, err := h.Execute(context.Background(), node, execCtx, map[string]any{"default": map[string]any{"name": "ada", "age": 30}}, nil)
	require.NoError(t, err)
	require.Equal(t, true, out.Value)
}

func TestJSONSchemaValidatorHandler_InvalidInstanceReportsViolations(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	node := &graph.Node{ID: "v", Type: graph.NodeJSONSchemaValidator, Properties: map[string]any{"schema": testPersonSchema}}

	h := &JSONSchemaValidatorHandler{}
	out, err := h.Execute(context.Background(), node, execCtx, map[string]any{"default": map[string]any{"name": "ada", "age": -1}}, nil)
	require.NoError(t, err)
	require.Equal(t, false, out.Value)

	violations, ok := out.Metadata["violations"].([]string)
	require.True(t, ok)
	require.NotEmpty(t, violations)
}

func TestJSONSchemaValidatorHandler_MalformedSchemaIsAValidationError(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	node := &graph.Node{ID: "v", Type: graph.NodeJSONSchemaValidator, Properties: map[string]any{"schema": "{not json"}}

	h := &JSONSchemaValidatorHandler{}
	_, err := h.Execute(context.Background(), node, execCtx, nil, nil)

	var engErr *graph.EngineError
	require.ErrorAs(t, err, &engErr)
	require.Equal(t, graph.CodeValidationError, engErr.Code)
}

func TestJSONSchemaValidatorHandler_MissingSchemaIsAValidationError(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	node := &graph.Node{ID: "v", Type: graph.NodeJSONSchemaValidator}

	h := &JSONSchemaValidatorHandler{}
	_, err := h.Execute(context.Background(), node, execCtx, nil, nil)

	var engErr *graph.EngineError
	require.ErrorAs(t, err, &engErr)
	require.Equal(t, graph.CodeValidationError, engErr.Code)
}
