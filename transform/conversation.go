package transform

// conversationState normalizes value into {"messages": [...]}, so
// downstream person_job handlers always see a consistent shape regardless
// of whether the upstream produced a bare string, a list, or an
// already-shaped conversation.
func conversationState(value any) any {
	switch v := value.(type) {
	case map[string]any:
		if _, ok := v["messages"]; ok {
			return v
		}
		return map[string]any{"messages": []any{v}}
	case []any:
		return map[string]any{"messages": v}
	case nil:
		return map[string]any{"messages": []any{}}
	default:
		return map[string]any{"messages": []any{
			map[string]any{"role": "user", "content": v},
		}}
	}
}
