// Package diagram parses a diagram's canonical on-wire form (nodes, arrows,
// persons, and API key references, each keyed by id) into the graph
// package's runtime types. The canonical form round-trips through both JSON
// and YAML so the same document can be authored by hand or generated by a
// UI layer this package never has to know about.
package diagram

// Document is the canonical, serializable shape of a diagram.
type Document struct {
	Nodes   map[string]NodeDoc   `json:"nodes" yaml:"nodes"`
	Arrows  map[string]ArrowDoc  `json:"arrows" yaml:"arrows"`
	Persons map[string]PersonDoc `json:"persons,omitempty" yaml:"persons,omitempty"`
	APIKeys map[string]APIKeyDoc `json:"apiKeys,omitempty" yaml:"apiKeys,omitempty"`
}

// NodeDoc is one entry under Document.Nodes.
type NodeDoc struct {
	Type string         `json:"type" yaml:"type"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// ArrowDoc is one entry under Document.Arrows. Source and Target accept
// either a bare node id or the combined "nodeId:handleName" form; when a
// bare id is used, SourceHandle/TargetHandle (if present) supply the
// handle name separately.
type ArrowDoc struct {
	Source       string         `json:"source" yaml:"source"`
	Target       string         `json:"target" yaml:"target"`
	SourceHandle string         `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string         `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
	Label        string         `json:"label,omitempty" yaml:"label,omitempty"`
	ContentType  string         `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Data         map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// PersonDoc is one entry under Document.Persons.
type PersonDoc struct {
	Label        string  `json:"label,omitempty" yaml:"label,omitempty"`
	Service      string  `json:"service" yaml:"service"`
	Model        string  `json:"model" yaml:"model"`
	APIKeyID     string  `json:"api_key_id,omitempty" yaml:"api_key_id,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	ForgetMode   string  `json:"forget_mode,omitempty" yaml:"forget_mode,omitempty"`
}

// APIKeyDoc is one entry under Document.APIKeys: a reference to a secret,
// resolved at build time rather than carried in the diagram itself. EnvVar
// takes priority over Value; an inline Value is meant for local/test
// diagrams only, never for anything checked in.
type APIKeyDoc struct {
	EnvVar string `json:"env_var,omitempty" yaml:"env_var,omitempty"`
	Value  string `json:"value,omitempty" yaml:"value,omitempty"`
}
