package graph

import "sort"

// Graph is the built, queryable form of a diagram: typed nodes, labeled
// arrows, adjacency indexes, and a topological execution order. Built once
// per Engine.Run call from the diagram's canonical form (see diagram.go).
type Graph struct {
	Nodes map[string]*Node
	Arrows []*Arrow

	Incoming map[string][]*Arrow
	Outgoing map[string][]*Arrow

	StartNode string

	// Order is the topological order computed by Kahn's algorithm, with any
	// remaining cyclic nodes appended afterward in index order. It is a scheduling hint, not a correctness requirement.
	Order []string

	index map[string]int
}

// BuildGraph validates and indexes a diagram's nodes and arrows.
func BuildGraph(nodes []*Node, arrows []*Arrow) (*Graph, error) {
	g := &Graph{
		Nodes:    make(map[string]*Node, len(nodes)),
		Arrows:   arrows,
		Incoming: make(map[string][]*Arrow),
		Outgoing: make(map[string][]*Arrow),
		index:    make(map[string]int, len(nodes)),
	}

	for i, n := range nodes {
		if _, dup := g.Nodes[n.ID]; dup {
			return nil, &EngineError{Message: "duplicate node id " + n.ID, Code: "INVALID_GRAPH"}
		}
		g.Nodes[n.ID] = n
		g.index[n.ID] = i
		if n.Type == NodeStart {
			if g.StartNode != "" {
				return nil, &EngineError{Message: "diagram has more than one start node", Code: "INVALID_GRAPH"}
			}
			g.StartNode = n.ID
		}
	}
	if g.StartNode == "" {
		return nil, &EngineError{Message: "diagram has no start node", Code: "INVALID_GRAPH"}
	}

	for _, a := range arrows {
		if _, ok := g.Nodes[a.Source.NodeID]; !ok {
			return nil, &EngineError{Message: "arrow " + a.ID + " references missing source node " + a.Source.NodeID, Code: "INVALID_GRAPH"}
		}
		if _, ok := g.Nodes[a.Target.NodeID]; !ok {
			return nil, &EngineError{Message: "arrow " + a.ID + " references missing target node " + a.Target.NodeID, Code: "INVALID_GRAPH"}
		}
		g.Outgoing[a.Source.NodeID] = append(g.Outgoing[a.Source.NodeID], a)
		g.Incoming[a.Target.NodeID] = append(g.Incoming[a.Target.NodeID], a)
	}

	g.Order = g.topologicalOrder(nodes)
	return g, nil
}

// topologicalOrder runs Kahn's algorithm over the node set, falling back to
// appending any nodes left over (cycle members) in their original index
// order so the engine tolerates cyclic diagrams rather than rejecting them.
func (g *Graph) topologicalOrder(nodes []*Node) []string {
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = 0
	}
	for _, a := range g.Arrows {
		inDegree[a.Target.NodeID]++
	}

	var queue []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	sort.Strings(queue)

	visited := make(map[string]bool, len(nodes))
	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, id)

		var next []string
		for _, a := range g.Outgoing[id] {
			to := a.Target.NodeID
			inDegree[to]--
			if inDegree[to] == 0 && !visited[to] {
				next = append(next, to)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(order) < len(nodes) {
		for _, n := range nodes {
			if !visited[n.ID] {
				order = append(order, n.ID)
				visited[n.ID] = true
			}
		}
	}
	return order
}

// ReachableForward returns the set of node ids reachable from start by
// following arrows in their natural direction, start included.
func (g *Graph) ReachableForward(start string) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, a := range g.Outgoing[id] {
			if !seen[a.Target.NodeID] {
				seen[a.Target.NodeID] = true
				queue = append(queue, a.Target.NodeID)
			}
		}
	}
	return seen
}

// ReachableBackward returns the set of node ids that can reach start by
// following arrows against their natural direction, start included.
func (g *Graph) ReachableBackward(start string) map[string]bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, a := range g.Incoming[id] {
			if !seen[a.Source.NodeID] {
				seen[a.Source.NodeID] = true
				queue = append(queue, a.Source.NodeID)
			}
		}
	}
	return seen
}

// LoopMembers returns the set of node ids belonging to the strongly
// connected region containing condNodeID: nodes both reachable from, and
// able to reach, the condition node. Re-queued when the condition evaluates
// false.
func (g *Graph) LoopMembers(condNodeID string) []string {
	fwd := g.ReachableForward(condNodeID)
	bwd := g.ReachableBackward(condNodeID)
	var members []string
	for id := range fwd {
		if bwd[id] {
			members = append(members, id)
		}
	}
	sort.Strings(members)
	return members
}
