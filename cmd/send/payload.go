package send

import (
	"fmt"
	"gopkg.in/yaml.v3"
)

// ParsePayload parses a YAML (and therefore also JSON) document into plain
// values: maps with string keys, slices, strings, numbers, bools and nil.
// Input that is not valid YAML is an error.
func ParsePayload(data []byte) (interface{}, error) {
	var v interface{}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid payload: %v", err)
	}
	return normalize(v), nil
}

// normalize converts maps with non-string keys (e.g. `1: a`) to string keyed
// maps, every serializer can encode those
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case []interface{}:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}
