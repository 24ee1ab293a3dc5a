package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ItemField is the selector key naming the record container.
const ItemField = "item"

// ModifierSeparator splits a field selector from its modifier ("a.link::attr(href)").
const ModifierSeparator = "::"

// FieldSelector is one declared output field.
type FieldSelector struct {
	Name string
	Expr string
}

// Split returns the CSS part of the expression and its modifier, if any.
func (f FieldSelector) Split() (css, modifier string) {
	css, modifier, _ = strings.Cut(f.Expr, ModifierSeparator)
	return strings.TrimSpace(css), strings.TrimSpace(modifier)
}

// Selectors is the selector map of a site. Field order follows the YAML document.
type Selectors struct {
	Item   string
	Fields []FieldSelector
}

// UnmarshalYAML decodes a mapping while keeping declaration order.
func (s *Selectors) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: selectors must be a mapping of field names to selectors", node.Line)
	}
	*s = Selectors{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: selector %q must be a string", val.Line, key.Value)
		}
		if key.Value == ItemField {
			s.Item = val.Value
			continue
		}
		s.Fields = append(s.Fields, FieldSelector{Name: key.Value, Expr: val.Value})
	}
	return nil
}

// MarshalYAML writes the selectors back as a mapping in declaration order.
func (s Selectors) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	add := func(k, v string) {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: v})
	}
	if s.Item != "" {
		add(ItemField, s.Item)
	}
	for _, f := range s.Fields {
		add(f.Name, f.Expr)
	}
	return node, nil
}

// Names returns the declared field names, excluding item.
func (s Selectors) Names() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Has reports whether a field (or item) is declared.
func (s Selectors) Has(name string) bool {
	if name == ItemField {
		return s.Item != ""
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
