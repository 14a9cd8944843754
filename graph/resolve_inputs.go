package graph

import (
	"sort"

	"github.com/sorryhyun/dipeo-engine-go/transform"
)

// ResolveInputs builds the input map for a ready node from its incoming
// arrows: per-arrow extraction (by label, then source
// handle, then "default"), first-only filtering past the first execution,
// content-type transformation, then key-selection with deterministic
// last-write-wins ordering by source node id.
func ResolveInputs(execCtx *ExecutionContext, node *Node) (map[string]any, error) {
	arrows := execCtx.Graph.Incoming[node.ID]
	if len(arrows) == 0 {
		return map[string]any{}, nil
	}

	sorted := make([]*Arrow, len(arrows))
	copy(sorted, arrows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Source.NodeID < sorted[j].Source.NodeID })

	execCount := execCtx.ExecCount[node.ID]
	inputs := make(map[string]any)

	for _, a := range sorted {
		if a.IsFirstOnly() && execCount > 0 {
			continue
		}

		out, ok := execCtx.Outputs[a.Source.NodeID]
		if !ok {
			continue
		}

		raw := extractHandleValue(out, a)

		tctx := transform.Context{
			ArrowLabel:   a.Label,
			ArrowData:    a.Data,
			SourceNodeID: a.Source.NodeID,
			SourceMeta:   out.Metadata,
		}
		val, err := transform.Apply(string(a.ContentType), raw, tctx)
		if err != nil {
			return nil, &EngineError{Message: err.Error(), Code: CodeTemplateError, NodeID: node.ID, Cause: err}
		}

		key := a.Label
		if key == "" {
			key = a.Target.HandleName
		}
		if key == "" {
			key = "default"
		}
		inputs[key] = val
	}

	return inputs, nil
}

// extractHandleValue picks the piece of an upstream output relevant to a
// specific arrow: arrow label key, then source handle key, then "default",
// then the entire value.
func extractHandleValue(out NodeOutput, a *Arrow) any {
	m, isMap := out.Value.(map[string]any)
	if !isMap {
		return out.Value
	}
	if a.Label != "" {
		if v, ok := m[a.Label]; ok {
			return v
		}
	}
	if a.Source.HandleName != "" {
		if v, ok := m[a.Source.HandleName]; ok {
			return v
		}
	}
	if v, ok := m["default"]; ok {
		return v
	}
	return out.Value
}
