package handler

import (
	"context"
	"fmt"

	"github.com/sorryhyun/dipeo-engine-go/graph"
	"github.com/sorryhyun/dipeo-engine-go/transform"
)

// TemplateJobHandler renders the node's "template" property through the
// transform package's template strategy, the same {{var}}/{var}
// substitution arrows use, with the node's resolved inputs exposed as
// "metadata.<key>" entries so the same placeholder env that arrows see is
// available to a standalone template node.
type TemplateJobHandler struct{}

func (h *TemplateJobHandler) NodeType() graph.NodeType   { return graph.NodeTemplateJob }
func (h *TemplateJobHandler) RequiresServices() []string { return nil }

func (h *TemplateJobHandler) Execute(ctx context.Context, node *graph.Node, execCtx *graph.ExecutionContext, inputs map[string]any, services graph.Services) (graph.NodeOutput, error) {
	tmpl := node.PropString("template")
	if tmpl == "" {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: "template_job: node has no \"template\" property",
			Code:    graph.CodeValidationError,
			NodeID:  node.ID,
		}
	}

	tctx := transform.Context{SourceNodeID: node.ID, SourceMeta: inputs}
	rendered, err := transform.Apply(transform.Template, tmpl, tctx)
	if err != nil {
		return graph.NodeOutput{}, &graph.EngineError{
			Message: fmt.Sprintf("template_job: %v", err),
			Code:    graph.CodeTemplateError,
			NodeID:  node.ID,
			Cause:   err,
		}
	}

	return graph.NodeOutput{NodeID: node.ID, Value: rendered}, nil
}
