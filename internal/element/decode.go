package element

import (
	"io"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/reconcile/internal/value"
)

// Decode reads a YAML or JSON document holding a sequence of mappings.
//
// Element numbers follow sequence order starting at 0. Attribute order follows
// mapping order, which is why the document is walked as a yaml.Node rather than
// decoded into Go maps.
func Decode(r io.Reader) ([]*Element, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "decode elements")
	}
	return FromNode(&doc)
}

// FromNode converts a parsed document node into elements.
func FromNode(node *yaml.Node) ([]*Element, error) {
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, nil
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.SequenceNode {
		return nil, errors.Newf("line %d: expected a sequence of elements", node.Line)
	}

	elements := make([]*Element, 0, len(node.Content))
	for i, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, errors.Newf("line %d: element %d is not a mapping", item.Line, i)
		}
		e := New(i)
		for j := 0; j+1 < len(item.Content); j += 2 {
			keyNode, valNode := item.Content[j], item.Content[j+1]
			if keyNode.Kind != yaml.ScalarNode {
				return nil, errors.Newf("line %d: element %d: attribute code must be a scalar", keyNode.Line, i)
			}
			var raw any
			if err := valNode.Decode(&raw); err != nil {
				return nil, errors.Wrapf(err, "element %d: attribute %q", i, keyNode.Value)
			}
			v, err := value.FromAny(normalizeYAML(raw))
			if err != nil {
				return nil, errors.Wrapf(err, "element %d: attribute %q", i, keyNode.Value)
			}
			e.Set(keyNode.Value, v)
		}
		elements = append(elements, e)
	}
	return elements, nil
}

// normalizeYAML converts map[any]any produced for non-string keys into map[string]any.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, elem := range val {
			val[k] = normalizeYAML(elem)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[toString(k)] = normalizeYAML(elem)
		}
		return out
	case []any:
		for i, elem := range val {
			val[i] = normalizeYAML(elem)
		}
		return val
	}
	return v
}

func toString(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	v, err := value.FromAny(k)
	if err != nil {
		return ""
	}
	return v.String()
}
