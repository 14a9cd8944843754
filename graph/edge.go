// Package graph provides the core graph execution engine.
package graph

import "strings"

// ContentType selects the transformation strategy applied to a value as it
// crosses an Arrow. See the transform package for the concrete strategies.
type ContentType string

const (
	ContentRawText           ContentType = "raw_text"
	ContentConversationState ContentType = "conversation_state"
	ContentVariable          ContentType = "variable"
	ContentJSON              ContentType = "json"
	ContentTemplate          ContentType = "template"
	ContentAggregation       ContentType = "aggregation"
	ContentFilter            ContentType = "filter"
	ContentErrorHandling     ContentType = "error_handling"

	firstOnlySuffix = "-first"
)

// HandleRef identifies a named port on a node. The empty HandleName means
// the node's default output/input handle.
type HandleRef struct {
	NodeID     string
	HandleName string
}

// Arrow is a directed, labeled connection between two node handles.
// Unlike a Go predicate over typed state, an Arrow
// is pure data: its behavior is interpreted by the resolver and the
// transform package, not by a function the diagram author writes in Go.
type Arrow struct {
	ID          string
	Source      HandleRef
	Target      HandleRef
	Label       string
	ContentType ContentType
	Data        map[string]any
}

// IsFirstOnly reports whether this arrow's target handle marks it as
// consumed only on the node's first execution.
func (a *Arrow) IsFirstOnly() bool {
	return strings.HasSuffix(a.Target.HandleName, firstOnlySuffix)
}

// BranchRequirement reports whether this arrow is gated on a condition
// node's boolean result, and if so, which value it requires. The second
// return value is false when the arrow carries no branch-selecting label.
func (a *Arrow) BranchRequirement() (want bool, has bool) {
	label := strings.ToLower(strings.TrimSpace(a.Label))
	if label == "" {
		label = strings.ToLower(strings.TrimSpace(a.Target.HandleName))
	}
	switch {
	case strings.Contains(label, "true"), strings.Contains(label, "yes"), strings.Contains(label, "1"):
		return true, true
	case strings.Contains(label, "false"), strings.Contains(label, "no"), strings.Contains(label, "0"):
		return false, true
	default:
		return false, false
	}
}
