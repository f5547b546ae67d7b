package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrUnsupportedSchema is returned when a JSON Schema document uses a
// construct outside the subset this package can generate against.
var ErrUnsupportedSchema = errors.New("unsupported json schema construct")

const defsRefPrefix = "#/$defs/"

// ParseSchema unmarshals a JSON Schema document and converts it into the
// native Schema tree. A missing or unknown type, a $ref outside
// "#/$defs/", a non-string enum value and an array without items fail
// with ErrUnsupportedSchema. Other keywords beside a supported type (for
// example minLength, pattern, or enum on a non-string type) are not
// checked and are ignored.
func ParseSchema(data []byte) (*Schema, error) {
	var js jsonschema.Schema
	if err := json.Unmarshal(data, &js); err != nil {
		return nil, fmt.Errorf("could not parse schema document: %w", err)
	}
	return FromJSONSchema(&js)
}

// FromJSONSchema converts a jsonschema.Schema into the native Schema
// tree: objects, arrays, strings with enums, integer and number ranges,
// booleans, "#/$defs/" references and anyOf.
func FromJSONSchema(js *jsonschema.Schema) (*Schema, error) {
	root, err := convertNode(js, "#")
	if err != nil {
		return nil, err
	}

	var defs map[string]*Node
	if len(js.Defs) > 0 {
		defs = make(map[string]*Node, len(js.Defs))
		for name, def := range js.Defs {
			node, err := convertNode(def, defsRefPrefix+name)
			if err != nil {
				return nil, err
			}
			defs[name] = node
		}
	}

	return NewSchema(root, defs), nil
}

// convertNode maps one jsonschema node onto a Node. path is the JSON
// pointer of the node, used only for error messages.
func convertNode(js *jsonschema.Schema, path string) (*Node, error) {
	if js == nil {
		return nil, fmt.Errorf("%w: %s: empty schema", ErrUnsupportedSchema, path)
	}

	if js.Ref != "" {
		name, ok := strings.CutPrefix(js.Ref, defsRefPrefix)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %s: $ref %q is not of the form %sName", ErrUnsupportedSchema, path, js.Ref, defsRefPrefix)
		}
		return NewRef(name), nil
	}

	if len(js.AnyOf) > 0 {
		variants := make([]*Node, 0, len(js.AnyOf))
		for i, v := range js.AnyOf {
			node, err := convertNode(v, fmt.Sprintf("%s/anyOf/%d", path, i))
			if err != nil {
				return nil, err
			}
			variants = append(variants, node)
		}
		return NewAnyOf(variants...), nil
	}

	switch js.Type {
	case "object":
		return convertObject(js, path)
	case "array":
		if js.Items == nil {
			return nil, fmt.Errorf("%w: %s: array without items", ErrUnsupportedSchema, path)
		}
		items, err := convertNode(js.Items, path+"/items")
		if err != nil {
			return nil, err
		}
		return NewArray(items, js.MinItems, js.MaxItems), nil
	case "string":
		if len(js.Enum) == 0 {
			return NewString(), nil
		}
		choices := make([]string, 0, len(js.Enum))
		for _, raw := range js.Enum {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s: non-string enum value %v", ErrUnsupportedSchema, path, raw)
			}
			choices = append(choices, s)
		}
		return NewEnum(choices...), nil
	case "integer":
		return NewNumber(true, js.Minimum, js.Maximum), nil
	case "number":
		return NewNumber(false, js.Minimum, js.Maximum), nil
	case "boolean":
		return NewBoolean(), nil
	case "":
		return nil, fmt.Errorf("%w: %s: schema has no type", ErrUnsupportedSchema, path)
	default:
		return nil, fmt.Errorf("%w: %s: type %q", ErrUnsupportedSchema, path, js.Type)
	}
}

func convertObject(js *jsonschema.Schema, path string) (*Node, error) {
	names := make([]string, 0, len(js.Properties))
	for name := range js.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	properties := make([]Property, 0, len(names))
	for _, name := range names {
		node, err := convertNode(js.Properties[name], path+"/properties/"+name)
		if err != nil {
			return nil, err
		}
		properties = append(properties, Property{Name: name, Node: node})
	}

	return NewObject(properties, js.Required...), nil
}
