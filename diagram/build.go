package diagram

import (
	"fmt"
	"os"
	"sort"

	"github.com/sorryhyun/dipeo-engine-go/graph"
)

// Build validates doc and converts it into the runtime types Engine.Run
// consumes: a built *graph.Graph, the diagram's Persons keyed by id, and
// API keys resolved to their live secret values. Nodes and arrows are built
// in sorted id order, which gives Document round-trips their stable
// arrow-overwrite ordering; persons and API keys are visited in map order,
// so when several of them are invalid, which error is reported first is
// not fixed.
func Build(doc Document) (*graph.Graph, map[string]*graph.Person, map[string]string, error) {
	nodes, err := buildNodes(doc.Nodes)
	if err != nil {
		return nil, nil, nil, err
	}
	arrows, err := buildArrows(doc.Arrows)
	if err != nil {
		return nil, nil, nil, err
	}

	g, err := graph.BuildGraph(nodes, arrows)
	if err != nil {
		return nil, nil, nil, err
	}

	persons := buildPersons(doc.Persons)
	apiKeys, err := resolveAPIKeys(doc.APIKeys)
	if err != nil {
		return nil, nil, nil, err
	}

	for _, p := range persons {
		if p.APIKeyID != "" {
			if _, ok := apiKeys[p.APIKeyID]; !ok {
				return nil, nil, nil, &graph.EngineError{
					Message: fmt.Sprintf("person %q references unknown api key %q", p.ID, p.APIKeyID),
					Code:    graph.CodeInvalidGraph,
				}
			}
		}
	}

	return g, persons, apiKeys, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildNodes(docs map[string]NodeDoc) ([]*graph.Node, error) {
	nodes := make([]*graph.Node, 0, len(docs))
	for _, id := range sortedKeys(docs) {
		d := docs[id]
		if d.Type == "" {
			return nil, &graph.EngineError{
				Message: fmt.Sprintf("node %q has no type", id),
				Code:    graph.CodeInvalidGraph,
			}
		}
		nodes = append(nodes, &graph.Node{
			ID:         id,
			Type:       graph.NodeType(d.Type),
			Properties: d.Data,
		})
	}
	return nodes, nil
}

func buildArrows(docs map[string]ArrowDoc) ([]*graph.Arrow, error) {
	arrows := make([]*graph.Arrow, 0, len(docs))
	for _, id := range sortedKeys(docs) {
		d := docs[id]
		srcNode, srcHandle := resolveSource(d)
		tgtNode, tgtHandle := resolveTarget(d)
		if srcNode == "" || tgtNode == "" {
			return nil, &graph.EngineError{
				Message: fmt.Sprintf("arrow %q is missing a source or target", id),
				Code:    graph.CodeInvalidGraph,
			}
		}
		arrows = append(arrows, &graph.Arrow{
			ID:          id,
			Source:      graph.HandleRef{NodeID: srcNode, HandleName: srcHandle},
			Target:      graph.HandleRef{NodeID: tgtNode, HandleName: tgtHandle},
			Label:       d.Label,
			ContentType: graph.ContentType(d.ContentType),
			Data:        d.Data,
		})
	}
	return arrows, nil
}

func buildPersons(docs map[string]PersonDoc) map[string]*graph.Person {
	persons := make(map[string]*graph.Person, len(docs))
	for id, d := range docs {
		persons[id] = &graph.Person{
			ID:           id,
			Label:        d.Label,
			Service:      d.Service,
			Model:        d.Model,
			APIKeyID:     d.APIKeyID,
			SystemPrompt: d.SystemPrompt,
			Temperature:  d.Temperature,
			ForgetMode:   graph.ForgetMode(d.ForgetMode),
		}
	}
	return persons
}

// resolveAPIKeys turns each declared reference into its live secret value.
// An EnvVar reference takes priority over an inline Value, matching the
// principle that diagrams should carry secrets by reference, not by copy.
func resolveAPIKeys(docs map[string]APIKeyDoc) (map[string]string, error) {
	keys := make(map[string]string, len(docs))
	for id, d := range docs {
		switch {
		case d.EnvVar != "":
			v, ok := os.LookupEnv(d.EnvVar)
			if !ok {
				return nil, &graph.EngineError{
					Message: fmt.Sprintf("api key %q references unset environment variable %q", id, d.EnvVar),
					Code:    graph.CodeInvalidGraph,
				}
			}
			keys[id] = v
		case d.Value != "":
			keys[id] = d.Value
		default:
			return nil, &graph.EngineError{
				Message: fmt.Sprintf("api key %q has neither env_var nor value set", id),
				Code:    graph.CodeInvalidGraph,
			}
		}
	}
	return keys, nil
}
