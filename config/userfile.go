package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// userMode is one mode definition from the user override file, in file order.
// Definition order matters: a mode may inherit from modes defined above it.
type userMode struct {
	name     string
	settings map[string]any
	inherit  []string
}

// parseUserConfig decodes the user override file: a mapping of mode name to
// settings table (with optional _inherit), plus an optional top-level
// default_mode directive naming the startup mode.
func parseUserConfig(data []byte) ([]userMode, string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "", err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, "", nil // empty file
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, "", fmt.Errorf("top level must be a mapping of mode names")
	}

	var modes []userMode
	var directive string

	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valueNode := root.Content[i], root.Content[i+1]

		if keyNode.Value == "default_mode" {
			if err := valueNode.Decode(&directive); err != nil {
				return nil, "", fmt.Errorf("default_mode: %w", err)
			}
			continue
		}

		var settings map[string]any
		if err := valueNode.Decode(&settings); err != nil {
			return nil, "", fmt.Errorf("mode %q: %w", keyNode.Value, err)
		}

		mode := userMode{name: keyNode.Value, settings: settings}
		if raw, ok := settings["_inherit"]; ok {
			mode.inherit = parseInherit(raw)
			delete(settings, "_inherit")
		}
		modes = append(modes, mode)
	}

	return modes, directive, nil
}

// parseInherit normalizes the _inherit option to a list of mode names. It
// accepts a YAML sequence or a string form like "[base, other]".
func parseInherit(value any) []string {
	switch v := value.(type) {
	case string:
		cleaned := strings.TrimSpace(v)
		cleaned = strings.TrimPrefix(cleaned, "[")
		cleaned = strings.TrimSuffix(cleaned, "]")
		if cleaned == "" {
			return nil
		}
		var names []string
		for _, part := range strings.Split(cleaned, ",") {
			part = strings.Trim(strings.TrimSpace(part), `'"`)
			if part != "" {
				names = append(names, part)
			}
		}
		return names
	case []any:
		var names []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		return names
	default:
		return nil
	}
}
