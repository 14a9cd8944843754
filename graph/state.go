package graph

import (
	"context"
	"sync"
	"time"
)

// SkipReason classifies why a node was not executed in a run.
type SkipReason string

const (
	SkipMaxIterations       SkipReason = "max_iterations"
	SkipFirstOnlyConsumed   SkipReason = "first_only_consumed"
	SkipDependencySkipped   SkipReason = "dependency_skipped"
	SkipConditionNotMet     SkipReason = "condition_not_met"
	SkipDependencyFailed    SkipReason = "dependency_failed"
)

// TokenUsage reports LLM token counts for a handler invocation, forwarded
// to an attached CostTracker when present.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

// NodeOutput is what a Handler produces for a single execution of a node.
// Value is either a bare scalar or a map keyed by output handle name; the
// default handle key is "default". Metadata carries auxiliary information
// consumed by the resolver (passthrough flag), the scheduler (condition
// result), and observers (error flags for the error_handling content type).
type NodeOutput struct {
	NodeID     string
	Value      any
	Metadata   map[string]any
	TokenUsage *TokenUsage
}

// AsMap returns Value as a map, promoting a bare scalar to {"default": v}.
func (o NodeOutput) AsMap() map[string]any {
	if m, ok := o.Value.(map[string]any); ok {
		return m
	}
	return map[string]any{"default": o.Value}
}

// MetaBool reads a boolean metadata flag, defaulting to false.
func (o NodeOutput) MetaBool(key string) bool {
	if o.Metadata == nil {
		return false
	}
	b, _ := o.Metadata[key].(bool)
	return b
}

// Passthrough reports whether this output was explicitly marked reusable
// for a skipped downstream dependency check.
func (o NodeOutput) Passthrough() bool {
	return o.MetaBool("passthrough")
}

// Person is a named LLM persona with its own append-only conversation.
type Person struct {
	ID           string
	Label        string
	Service      string // e.g. "anthropic", "openai", "google"
	Model        string
	APIKeyID     string
	SystemPrompt string
	Temperature  float64
	ForgetMode   ForgetMode

	mu           sync.Mutex
	conversation []Message
}

// ForgetMode controls which of a person's own prior messages are visible
// on the current call.
type ForgetMode string

const (
	ForgetNone       ForgetMode = "no_forget"
	ForgetEveryTurn  ForgetMode = "on_every_turn"
	ForgetUponRequest ForgetMode = "upon_request"
)

// MessageType classifies the direction of a Message.
type MessageType string

const (
	MessagePersonToPerson MessageType = "person_to_person"
	MessageSystemToPerson MessageType = "system_to_person"
	MessagePersonToSystem MessageType = "person_to_system"
)

// Message is one entry in a person's append-only conversation log.
type Message struct {
	FromPersonID string
	ToPersonID   string
	Content      string
	Type         MessageType
	Timestamp    time.Time
	TokenCount   int
}

// Append adds a message to the person's conversation under its own lock,
// making the person the single writer of its own history.
func (p *Person) Append(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conversation = append(p.conversation, m)
}

// History returns a copy of the person's conversation, filtered by its
// ForgetMode. execCount is the node's current execution count (0-based,
// before the call about to be made); forgetRequested applies only to
// ForgetUponRequest.
func (p *Person) History(execCount int, forgetRequested bool) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.ForgetMode {
	case ForgetEveryTurn:
		if execCount == 0 {
			return append([]Message(nil), p.conversation...)
		}
		var kept []Message
		var lastUser *Message
		for i := range p.conversation {
			m := p.conversation[i]
			if m.Type == MessageSystemToPerson {
				kept = append(kept, m)
			}
			if m.Type == MessagePersonToPerson {
				mm := m
				lastUser = &mm
			}
		}
		if lastUser != nil {
			kept = append(kept, *lastUser)
		}
		return kept
	case ForgetUponRequest:
		if forgetRequested {
			return nil
		}
		return append([]Message(nil), p.conversation...)
	default: // ForgetNone
		return append([]Message(nil), p.conversation...)
	}
}

// ExecutionContext is the per-run mutable state owned exclusively by the
// scheduler. It replaces a generic, compile-time typed S: the engine
// writes here in the scheduler goroutine only, after a round's handlers
// have all returned, without holding a lock.
type ExecutionContext struct {
	ExecutionID string
	Graph       *Graph

	ExecCount map[string]int
	Outputs   map[string]NodeOutput
	CondVal   map[string]bool
	Skipped   map[string]SkipReason
	Order     []string

	Persons map[string]*Person
	APIKeys map[string]string

	Interactive InteractiveHandler

	// RecordedIO holds, per node, the I/O captured from nodes whose
	// SideEffectPolicy.Recordable is true, indexed by node id in invocation
	// order. ReplayMode consumes these instead of re-invoking the node.
	RecordedIO map[string][]RecordedIO
}

// InteractiveHandler resolves a human-in-the-loop prompt to a reply,
// invoked by the user_response handler and, when configured, by person_job.
type InteractiveHandler func(ctx context.Context, nodeID, prompt string, execCtx *ExecutionContext) (string, error)

// NewExecutionContext creates an empty context for the given graph and run.
func NewExecutionContext(executionID string, g *Graph) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID: executionID,
		Graph:       g,
		ExecCount:   make(map[string]int),
		Outputs:     make(map[string]NodeOutput),
		CondVal:     make(map[string]bool),
		Skipped:     make(map[string]SkipReason),
		Persons:     make(map[string]*Person),
		APIKeys:     make(map[string]string),
		RecordedIO:  make(map[string][]RecordedIO),
	}
}

// FlattenedOutputs returns a map suitable for expression/template resolution:
// node id -> its output's default-handle value.
func (c *ExecutionContext) FlattenedOutputs() map[string]any {
	out := make(map[string]any, len(c.Outputs))
	for id, o := range c.Outputs {
		out[id] = o.Value
	}
	return out
}
