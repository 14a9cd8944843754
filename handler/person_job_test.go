package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sorryhyun/dipeo-engine-go/graph"
	"github.com/sorryhyun/dipeo-engine-go/graph/model"
)

func mockModelFactory(responses []model.ChatOut, callErr error) ModelFactory {
	mock := &model.MockChatModel{Responses: responses, Err: callErr}
	return func(service, modelName, apiKey string) (model.ChatModel, error) {
		return mock, nil
	}
}

func testNode(id string, props map[string]any) *graph.Node {
	return &graph.Node{ID: id, Type: graph.NodePersonJob, Properties: props}
}

func TestPersonJobHandler_SelectsFirstOnlyPromptOnFirstCall(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	execCtx.Persons["writer"] = &graph.Person{ID: "writer", Service: "anthropic", Model: "claude-3-haiku"}

	node := testNode("n1", map[string]any{
		"person":            "writer",
		"first_only_prompt": "introduce yourself",
		"default_prompt":    "continue",
	})

	h := NewPersonJobHandler()
	services := graph.Services{ServiceLLM: mockModelFactory([]model.ChatOut{{Text: "hello"}}, nil)}

	out, err := h.Execute(context.Background(), node, execCtx, nil, services)
	require.NoError(t, err)
	require.Equal(t, "hello", out.Value)
	require.Len(t, execCtx.Persons["writer"].History(0, false), 2)
}

func TestPersonJobHandler_UsesDefaultPromptAfterFirstExecution(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	execCtx.Persons["writer"] = &graph.Person{ID: "writer", Service: "openai", Model: "gpt-4o"}
	execCtx.ExecCount["n1"] = 1

	node := testNode("n1", map[string]any{
		"person":            "writer",
		"first_only_prompt": "introduce yourself",
		"default_prompt":    "continue the story",
	})

	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "more story"}}}
	services := graph.Services{ServiceLLM: ModelFactory(func(service, modelName, apiKey string) (model.ChatModel, error) {
		return mock, nil
	})}

	h := NewPersonJobHandler()
	_, err := h.Execute(context.Background(), node, execCtx, nil, services)
	require.NoError(t, err)
	require.Len(t, mock.Calls, 1)
	last := mock.Calls[0].Messages[len(mock.Calls[0].Messages)-1]
	require.Equal(t, "continue the story", last.Content)
}

func TestPersonJobHandler_MissingPersonIsAValidationError(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	node := testNode("n1", map[string]any{"person": "ghost"})

	h := NewPersonJobHandler()
	_, err := h.Execute(context.Background(), node, execCtx, nil, graph.Services{ServiceLLM: mockModelFactory(nil, nil)})

	var engErr *graph.EngineError
	require.ErrorAs(t, err, &engErr)
	require.Equal(t, graph.CodeValidationError, engErr.Code)
}

func TestPersonJobHandler_NoModelFactoryRegisteredIsAHandlerFailure(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	execCtx.Persons["writer"] = &graph.Person{ID: "writer"}
	node := testNode("n1", map[string]any{"person": "writer", "default_prompt": "hi"})

	h := NewPersonJobHandler()
	_, err := h.Execute(context.Background(), node, execCtx, nil, graph.Services{})
	require.Error(t, err)
}

func TestPersonBatchJobHandler_RunsOncePerItem(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	execCtx.Persons["writer"] = &graph.Person{ID: "writer"}
	node := &graph.Node{ID: "batch", Type: graph.NodePersonBatchJob, Properties: map[string]any{
		"person":         "writer",
		"default_prompt": "process {{item}}",
	}}

	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "r1"}, {Text: "r2"}, {Text: "r3"}}}
	services := graph.Services{ServiceLLM: ModelFactory(func(service, modelName, apiKey string) (model.ChatModel, error) {
		return mock, nil
	})}

	h := NewPersonBatchJobHandler()
	out, err := h.Execute(context.Background(), node, execCtx, map[string]any{"items": []any{"a", "b", "c"}}, services)
	require.NoError(t, err)
	results, ok := out.Value.([]any)
	require.True(t, ok)
	require.Len(t, results, 3)
	require.Len(t, mock.Calls, 3)
}

func TestPersonJobHandler_ContextLimitTruncatesHistory(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	person := &graph.Person{ID: "writer", Service: "anthropic", Model: "claude-3-haiku"}
	for i := 0; i < 5; i++ {
		person.Append(graph.Message{ToPersonID: person.ID, Content: "u", Type: graph.MessagePersonToPerson})
		person.Append(graph.Message{FromPersonID: person.ID, Content: "a", Type: graph.MessageSystemToPerson})
	}
	execCtx.Persons["writer"] = person
	execCtx.ExecCount["n1"] = 5

	node := testNode("n1", map[string]any{"person": "writer", "default_prompt": "go on"})
	mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "reply"}}}
	services := graph.Services{ServiceLLM: ModelFactory(func(service, modelName, apiKey string) (model.ChatModel, error) {
		return mock, nil
	})}

	h := NewPersonJobHandlerWithLimit(2)
	_, err := h.Execute(context.Background(), node, execCtx, nil, services)
	require.NoError(t, err)
	require.Len(t, mock.Calls, 1)
	// 2 history messages plus the fresh prompt.
	require.Len(t, mock.Calls[0].Messages, 3)
}

func TestPersonBatchJobHandler_NonListInputIsAValidationError(t *testing.T) {
	execCtx := graph.NewExecutionContext("run-1", emptyGraph())
	node := &graph.Node{ID: "batch", Type: graph.NodePersonBatchJob}
	h := NewPersonBatchJobHandler()
	_, err := h.Execute(context.Background(), node, execCtx, map[string]any{"items": "not-a-list"}, graph.Services{})
	require.Error(t, err)
}
