package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadVars decodes a YAML mapping of template variables.
func loadVars(path string) (map[string]any, error) {
	vars := map[string]any{}
	if path == "" {
		return vars, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vars file: %w", err)
	}
	if err := yaml.Unmarshal(b, &vars); err != nil {
		return nil, fmt.Errorf("decoding vars file %s: %w", path, err)
	}
	if vars == nil {
		vars = map[string]any{}
	}
	return vars, nil
}

// applySets merges key=value assignments into vars. Values are decoded as
// YAML scalars, so n=3 binds an int and flag=true a bool. Dotted keys
// address nested maps: user.name=Ada.
func applySets(vars map[string]any, sets []string) error {
	for _, kv := range sets {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --set %q (want KEY=VALUE)", kv)
		}
		var val any
		if err := yaml.Unmarshal([]byte(raw), &val); err != nil {
			val = raw
		}
		if val == nil && raw != "null" && raw != "~" {
			val = raw
		}

		parts := strings.Split(key, ".")
		m := vars
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = val
	}
	return nil
}
