package diagram

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a diagram document from path, choosing JSON or YAML decoding
// by file extension ("json" vs "yaml"/"yml").
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("diagram: reading %s: %w", path, err)
	}
	return Decode(data, filepath.Ext(path))
}

// Decode parses raw diagram bytes. ext is a file extension (with or
// without the leading dot); anything other than ".json" is treated as
// YAML, since YAML is a superset of JSON and that keeps Decode total over
// any extension a caller passes.
func Decode(data []byte, ext string) (Document, error) {
	var doc Document
	if strings.EqualFold(strings.TrimPrefix(ext, "."), "json") {
		if err := json.Unmarshal(data, &doc); err != nil {
			return Document{}, fmt.Errorf("diagram: decoding json: %w", err)
		}
		return doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("diagram: decoding yaml: %w", err)
	}
	return doc, nil
}

// Save writes doc to path in JSON or YAML, chosen by file extension.
func Save(path string, doc Document) error {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	var data []byte
	var err error
	if strings.EqualFold(ext, "json") {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("diagram: encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("diagram: writing %s: %w", path, err)
	}
	return nil
}
