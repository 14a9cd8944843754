package diagram

import "strings"

// parseHandle splits a "nodeId:handleName" reference into its parts. A bare
// node id (no colon) yields an empty handle name, which callers fall back to
// an explicit *Handle field for.
func parseHandle(ref string) (nodeID, handle string) {
	if idx := strings.IndexByte(ref, ':'); idx >= 0 {
		return ref[:idx], ref[idx+1:]
	}
	return ref, ""
}

func resolveSource(a ArrowDoc) (nodeID, handle string) {
	nodeID, handle = parseHandle(a.Source)
	if handle == "" {
		handle = a.SourceHandle
	}
	return nodeID, handle
}

func resolveTarget(a ArrowDoc) (nodeID, handle string) {
	nodeID, handle = parseHandle(a.Target)
	if handle == "" {
		handle = a.TargetHandle
	}
	return nodeID, handle
}
