package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toStrictJSON prepares raw config bytes for the strict JSON decoder.
// Files with a .yaml/.yml extension are unmarshaled and re-marshaled as
// JSON; everything else is assumed to be JSON already and passed through.
// Funneling both formats into one decoder keeps DisallowUnknownFields
// authoritative regardless of the file format.
func toStrictJSON(path string, data []byte) ([]byte, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(stringKeyed(v))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return j, nil
}

// stringKeyed rewrites YAML mappings to string-keyed maps; json.Marshal
// rejects map[any]any.
func stringKeyed(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeyed(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeyed(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeyed(x[i])
		}
		return x
	default:
		return in
	}
}
