package transform

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// jsonTransform implements the "json" content type: parse_json decodes a
// string into a structured value (falling back to jsonrepair on malformed
// LLM output, mirroring the parse-then-repair pattern used elsewhere in the
// ecosystem for near-miss JSON), stringify_json encodes a structured value
// back to a string.
func jsonTransform(value any, data map[string]any) (any, error) {
	if truthy(data["stringify_json"]) {
		indent := 0
		if n, ok := data["indent"].(int); ok {
			indent = n
		}
		var out []byte
		var err error
		if indent > 0 {
			out, err = json.MarshalIndent(value, "", fmt.Sprintf("%*s", indent, ""))
		} else {
			out, err = json.Marshal(value)
		}
		if err != nil {
			return nil, fmt.Errorf("transform: stringify_json: %w", err)
		}
		return string(out), nil
	}

	if truthy(data["parse_json"]) {
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		var result any
		if err := json.Unmarshal([]byte(s), &result); err == nil {
			return result, nil
		}

		repaired, repairErr := jsonrepair.JSONRepair(s)
		if repairErr != nil {
			// Total failure: pass through the raw text rather than aborting
			// the whole run over one malformed value.
			return s, nil
		}
		if err := json.Unmarshal([]byte(repaired), &result); err != nil {
			return s, nil
		}
		return result, nil
	}

	return value, nil
}

func truthy(v any) bool {
	b, _ := v.(bool)
	return b
}
