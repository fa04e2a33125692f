// Package loader reads PetalRules rule definitions and element snapshots
// from JSON and YAML files.
package loader

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileKind identifies the content of a file.
type FileKind string

const (
	FileKindRules    FileKind = "rules"
	FileKindSnapshot FileKind = "snapshot"
)

// DetectKind auto-detects the file kind from content and path.
//  1. Determine parse format from extension (.yaml/.yml -> YAML, else JSON)
//  2. An explicit top-level "kind" of "rules" or "snapshot" wins
//  3. A "rules" key -> rules
//  4. A "root" key -> snapshot
//  5. Else error
func DetectKind(data []byte, filePath string) (FileKind, error) {
	var raw map[string]any
	if isYAML(filePath) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing YAML: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing JSON: %w", err)
		}
	}

	if kind, ok := raw["kind"].(string); ok {
		switch FileKind(kind) {
		case FileKindRules, FileKindSnapshot:
			return FileKind(kind), nil
		}
		return "", fmt.Errorf("unknown file kind %q", kind)
	}
	if hasKey(raw, "rules") {
		return FileKindRules, nil
	}
	if hasKey(raw, "root") {
		return FileKindSnapshot, nil
	}
	return "", fmt.Errorf("unable to detect file kind: expected a \"rules\" or \"root\" key")
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// yamlToJSON converts YAML bytes to JSON bytes so that a single set of json
// struct tags drives decoding of both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return json.Marshal(raw)
}
