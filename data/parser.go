package data

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Decode parses a JSON or YAML document into target, using target's JSON field mappings for
// both. YAML is converted to its JSON equivalent first, which resolves anchors and merge keys.
func Decode(data []byte, target any) error {
	if startsLikeJSON(data) {
		err := json.Unmarshal(data, target)
		var syntaxErr *json.SyntaxError
		if err == nil || !errors.As(err, &syntaxErr) {
			return err
		}
		// a YAML flow collection such as {a: 1} also starts this way
	}
	var parsed any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("not valid JSON or YAML: %w", err)
	}
	converted, err := jsonCompatible(parsed, "")
	if err != nil {
		return err
	}
	asJSON, err := json.Marshal(converted)
	if err != nil {
		return err
	}
	return json.Unmarshal(asJSON, target)
}

func startsLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeftFunc(data, unicode.IsSpace)
	return len(trimmed) != 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// jsonCompatible rewrites the maps produced by the YAML decoder so that they can be marshaled
// as JSON. at is the location of value within the document, for error messages.
func jsonCompatible(value any, at string) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			converted, err := jsonCompatible(item, at+"."+key)
			if err != nil {
				return nil, err
			}
			out[key] = converted
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			name, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("YAML map key %v at %s is a %T; only string keys are allowed", key, rootIfEmpty(at), key)
			}
			converted, err := jsonCompatible(item, at+"."+name)
			if err != nil {
				return nil, err
			}
			out[name] = converted
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			converted, err := jsonCompatible(item, at+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	default:
		return value, nil
	}
}

func rootIfEmpty(at string) string {
	if at == "" {
		return "top level"
	}
	return at
}
