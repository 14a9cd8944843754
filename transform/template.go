package transform

import (
	"fmt"
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][\w.]*)\s*\}\}|\{\s*([a-zA-Z_][\w.]*)\s*\}`)

// templateTransform substitutes {var} and {{var}} placeholders using a
// small fixed environment: "value" (the upstream payload itself),
// "source_node_id", "arrow.label", and any keys under the source's
// metadata. This is deliberately not a full templating engine — no
// conditionals, no loops — matching the same "minimal, not general-purpose"
// posture as the condition evaluator.
func templateTransform(value any, tctx Context) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}

	env := map[string]any{
		"value":          value,
		"source_node_id": tctx.SourceNodeID,
		"arrow.label":    tctx.ArrowLabel,
	}
	for k, v := range tctx.SourceMeta {
		env["metadata."+k] = v
	}

	var outErr error
	result := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		v, ok := env[name]
		if !ok {
			return match
		}
		return fmt.Sprintf("%v", v)
	})
	return result, outErr
}
