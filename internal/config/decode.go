package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decodeStrict decodes one JSON or YAML document into v. Unknown fields and
// trailing content are rejected so a typo fails loudly instead of silently
// configuring nothing. YAML routes through an any-tree into JSON so both
// formats share the same strict decoder.
func decodeStrict(path string, raw []byte, v any) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var tree any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return fmt.Errorf("yaml: %w", err)
		}
		jb, err := json.Marshal(jsonReady(tree))
		if err != nil {
			return fmt.Errorf("yaml: %w", err)
		}
		raw = jb
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("trailing data after config document")
		}
		return err
	}
	return nil
}

// jsonReady rewrites any-keyed maps to string keys so the tree can be
// marshaled to JSON.
func jsonReady(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = jsonReady(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = jsonReady(e)
		}
		return m
	case []any:
		for i, e := range t {
			t[i] = jsonReady(e)
		}
		return t
	default:
		return v
	}
}
