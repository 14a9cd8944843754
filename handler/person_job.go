package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sorryhyun/dipeo-engine-go/graph"
	"github.com/sorryhyun/dipeo-engine-go/graph/model"
)

// ModelFactory resolves a Person's configured service ("anthropic",
// "openai", "google") and model name to a live model.ChatModel, typically
// backed by an API key looked up from execCtx.APIKeys. Tests pass a factory
// that always returns a *model.MockChatModel.
type ModelFactory func(service, modelName, apiKey string) (model.ChatModel, error)

const defaultConversationContextLimit = 20

// PersonJobHandler dispatches a single LLM turn for a configured Person,
// selecting first_only_prompt on the person's first execution and
// default_prompt thereafter, then appending the exchange to the person's
// conversation. It is stateless: the ModelFactory it dispatches through is
// resolved per call from the engine's service registry under ServiceLLM,
// not stored on the handler.
type PersonJobHandler struct {
	// contextLimit caps how many prior messages assemblePersonMessages
	// prepends to a fresh prompt. The constructors never leave it at zero;
	// a zero value set directly means no cap.
	contextLimit int
}

func NewPersonJobHandler() *PersonJobHandler {
	return &PersonJobHandler{contextLimit: defaultConversationContextLimit}
}

// NewPersonJobHandlerWithLimit is NewPersonJobHandler with an explicit
// conversation context limit, wired from the ambient config surface rather
// than the package default.
func NewPersonJobHandlerWithLimit(limit int) *PersonJobHandler {
	if limit <= 0 {
		limit = defaultConversationContextLimit
	}
	return &PersonJobHandler{contextLimit: limit}
}

func (h *PersonJobHandler) NodeType() graph.NodeType   { return graph.NodePersonJob }
func (h *PersonJobHandler) RequiresServices() []string { return []string{ServiceLLM} }

func (h *PersonJobHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	person, err := resolvePerson(node, execCtx)
	if err != nil {
		return graph.NodeOutput{}, &graph.EngineError{Message: err.Error(), Code: graph.CodeValidationError, NodeID: node.ID, Cause: err}
	}

	chatModel, err := resolveModel(services, person, execCtx)
	if err != nil {
		return graph.NodeOutput{}, &graph.EngineError{Message: err.Error(), Code: graph.CodeHandlerFailure, NodeID: node.ID, Cause: err}
	}

	execCount := execCtx.ExecCount[node.ID]
	prompt := selectPrompt(node, execCount)
	prompt = substitutePlaceholders(prompt, inputs)

	messages := assemblePersonMessages(node, person, execCount, inputs, prompt, h.contextLimit)

	out, err := chatModel.Chat(ctx, messages, nil)
	if err != nil {
		return graph.NodeOutput{}, &graph.EngineError{Message: err.Error(), Code: graph.CodeHandlerFailure, NodeID: node.ID, Cause: err}
	}

	now := time.Now()
	person.Append(graph.Message{FromPersonID: "", ToPersonID: person.ID, Content: prompt, Type: graph.MessagePersonToPerson, Timestamp: now})
	person.Append(graph.Message{FromPersonID: person.ID, ToPersonID: "", Content: out.Text, Type: graph.MessageSystemToPerson, Timestamp: now})

	usage := estimateTokenUsage(prompt, out.Text)

	meta := map[string]any{
		"model":   person.Model,
		"service": person.Service,
	}
	value := any(out.Text)
	if node.PropString("output_mode") == "conversation_state" {
		value = map[string]any{
			"default":            out.Text,
			"conversation_state": person.History(execCount+1, false),
		}
	}

	return graph.NodeOutput{NodeID: node.ID, Value: value, Metadata: meta, TokenUsage: usage}, nil
}

func resolveModel(services graph.Services, person *graph.Person, execCtx *graph.ExecutionContext) (model.ChatModel, error) {
	modelFor, ok := services[ServiceLLM].(ModelFactory)
	if !ok || modelFor == nil {
		return nil, fmt.Errorf("person_job: no model factory registered under %q", ServiceLLM)
	}
	apiKey := execCtx.APIKeys[person.APIKeyID]
	return modelFor(person.Service, person.Model, apiKey)
}

func resolvePerson(node *graph.Node, execCtx *graph.ExecutionContext) (*graph.Person, error) {
	personID := node.PropString("person")
	if personID == "" {
		return nil, fmt.Errorf("person_job: node %s has no \"person\" property", node.ID)
	}
	person, ok := execCtx.Persons[personID]
	if !ok {
		return nil, fmt.Errorf("person_job: unknown person %q", personID)
	}
	return person, nil
}

// selectPrompt picks first_only_prompt on a person's very first invocation
// (execCount == 0) when one is configured, falling back to default_prompt.
func selectPrompt(node *graph.Node, execCount int) string {
	if execCount == 0 {
		if p := node.PropString("first_only_prompt"); p != "" {
			return p
		}
	}
	return node.PropString("default_prompt")
}

// assemblePersonMessages builds the full message list for one Chat call:
// an optional system prompt, the person's prior conversation (filtered by
// its ForgetMode), any incoming conversation fragments carried over arrows,
// then the current user prompt.
func assemblePersonMessages(node *graph.Node, person *graph.Person, execCount int, inputs map[string]any, prompt string, contextLimit int) []model.Message {
	var messages []model.Message
	if person.SystemPrompt != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: person.SystemPrompt})
	}

	forgetRequested := truthyProp(inputs, "forget")
	history := person.History(execCount, forgetRequested)
	if contextLimit > 0 && len(history) > contextLimit {
		history = history[len(history)-contextLimit:]
	}
	for _, m := range history {
		role := model.RoleAssistant
		if m.Type != graph.MessageSystemToPerson {
			role = model.RoleUser
		}
		messages = append(messages, model.Message{Role: role, Content: m.Content})
	}

	if frag, ok := inputs["conversation_state"]; ok {
		if s, ok := frag.(string); ok && s != "" {
			messages = append(messages, model.Message{Role: model.RoleUser, Content: s})
		}
	}

	messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})
	return messages
}

func truthyProp(inputs map[string]any, key string) bool {
	b, _ := inputs[key].(bool)
	return b
}

// substitutePlaceholders resolves {{key}} references in a prompt template
// against the node's resolved inputs. Only the exact {{key}} form is
// replaced; unlike the transform package's template strategy, {key} and
// whitespace inside the braces are left as written.
func substitutePlaceholders(prompt string, inputs map[string]any) string {
	for k, v := range inputs {
		prompt = strings.ReplaceAll(prompt, "{{"+k+"}}", fmt.Sprintf("%v", v))
	}
	return prompt
}

// estimateTokenUsage approximates token counts from rune length (roughly
// four characters per token), since the ChatModel contract does not surface
// provider-reported usage. This feeds CostTracker attribution at the engine
// layer; the counts are approximations, not provider-reported figures.
func estimateTokenUsage(prompt, reply string) *graph.TokenUsage {
	return &graph.TokenUsage{
		InputTokens:  len([]rune(prompt)) / 4,
		OutputTokens: len([]rune(reply)) / 4,
	}
}
