package transform

// errorHandlingTransform implements the "error_handling" content type.
// When the source node's metadata flags an error, the configured "on_error"
// strategy applies: pass_through (default) forwards the value unchanged,
// default_value substitutes arrow data's "default", skip nulls the value,
// and transform wraps it as a structured error record.
func errorHandlingTransform(value any, tctx Context) (any, error) {
	hasError, _ := tctx.SourceMeta["error"].(bool)
	if !hasError {
		return value, nil
	}

	strategy, _ := tctx.ArrowData["on_error"].(string)
	switch strategy {
	case "default_value":
		return tctx.ArrowData["default"], nil
	case "skip":
		return nil, nil
	case "transform":
		return map[string]any{
			"error": true,
			"value": value,
			"node":  tctx.SourceNodeID,
		}, nil
	default: // pass_through
		return value, nil
	}
}
