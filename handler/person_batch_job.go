package handler

import (
	"context"
	"fmt"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

// PersonBatchJobHandler runs the same person_job prompt once per item in a
// batch, reusing a single PersonJobHandler so the person's append-only
// conversation and model resolution logic stay identical between the two
// node types. Items come from the input key named by the node's
// "batch_input_key" property ("items" when unset), and each item is exposed to prompt
// substitution under the "item" key alongside the node's other inputs.
type PersonBatchJobHandler struct {
	single *PersonJobHandler
}

func NewPersonBatchJobHandler() *PersonBatchJobHandler {
	return &PersonBatchJobHandler{single: NewPersonJobHandler()}
}

// NewPersonBatchJobHandlerWithLimit is NewPersonBatchJobHandler with an
// explicit conversation context limit, forwarded to the inner
// PersonJobHandler each batch item runs through.
func NewPersonBatchJobHandlerWithLimit(limit int) *PersonBatchJobHandler {
	return &PersonBatchJobHandler{single: NewPersonJobHandlerWithLimit(limit)}
}

func (h *PersonBatchJobHandler) NodeType() graph.NodeType   { return graph.NodePersonBatchJob }
func (h *PersonBatchJobHandler) RequiresServices() []string { return []string{ServiceLLM} }

func (h *PersonBatchJobHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	key := node.PropString("batch_input_key")
	if key == "" {
		key = "items"
	}
	items, ok := inputs[key].([]any)
	if !ok {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("person_batch_job: input %q is not a list", key),
			Code:    graph.CodeValidationError,
			NodeID:  node.ID,
		}
	}

	results := make([]any, len(items))
	var totalUsage graph.TokenUsage
	for i, item := range items {
		itemInputs := make(map[string]any, len(inputs)+1)
		for k, v := range inputs {
			itemInputs[k] = v
		}
		itemInputs["item"] = item

		out, err := h.single.Execute(ctx, node, execCtx, itemInputs, services)
		if err != nil {
			return graph.NodeOutput{}, fmt.Errorf("person_batch_job: item %d: %w", i, err)
		}
		results[i] = out.Value
		if out.TokenUsage != nil {
			totalUsage.InputTokens += out.TokenUsage.InputTokens
			totalUsage.OutputTokens += out.TokenUsage.OutputTokens
		}
	}

	return graph.NodeOutput{
		NodeID:     node.ID,
		Value:      results,
		Metadata:   map[string]any{"batch_size": len(items)},
		TokenUsage: &totalUsage,
	}, nil
}
