package transform

import "fmt"

// aggregationTransform reduces a list (or a single value promoted to a
// singleton list) using the "mode" key in arrow data: concat, sum, count,
// first, last. An unrecognized or missing mode returns the list unchanged.
func aggregationTransform(value any, data map[string]any) (any, error) {
	items := toList(value)
	mode, _ := data["mode"].(string)

	switch mode {
	case "concat":
		out := ""
		for i, it := range items {
			if i > 0 {
				out += " "
			}
			out += fmt.Sprintf("%v", it)
		}
		return out, nil
	case "sum":
		var sum float64
		for _, it := range items {
			sum += toFloat(it)
		}
		return sum, nil
	case "count":
		return len(items), nil
	case "first":
		if len(items) == 0 {
			return nil, nil
		}
		return items[0], nil
	case "last":
		if len(items) == 0 {
			return nil, nil
		}
		return items[len(items)-1], nil
	default:
		return items, nil
	}
}

func toList(value any) []any {
	if items, ok := value.([]any); ok {
		return items
	}
	if value == nil {
		return nil
	}
	return []any{value}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
