package transform

import "fmt"

// filterTransform drops list items (or map keys) failing the predicate
// named by "op" in arrow data, compared against "value" in arrow data:
// equals, not_equals, contains, greater_than, less_than. Scalars are kept
// or dropped outright (a dropped scalar becomes nil).
func filterTransform(value any, data map[string]any) (any, error) {
	op, _ := data["op"].(string)
	want := data["value"]

	predicate := func(v any) bool { return matches(op, v, want) }

	switch v := value.(type) {
	case []any:
		var out []any
		for _, item := range v {
			if predicate(item) {
				out = append(out, item)
			}
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			if predicate(item) {
				out[k] = item
			}
		}
		return out, nil
	default:
		if predicate(v) {
			return v, nil
		}
		return nil, nil
	}
}

func matches(op string, v, want any) bool {
	switch op {
	case "equals":
		return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", want)
	case "not_equals":
		return fmt.Sprintf("%v", v) != fmt.Sprintf("%v", want)
	case "contains":
		s, _ := v.(string)
		sub, _ := want.(string)
		return sub != "" && containsSubstr(s, sub)
	case "greater_than":
		return toFloat(v) > toFloat(want)
	case "less_than":
		return toFloat(v) < toFloat(want)
	default:
		return true
	}
}

func containsSubstr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
