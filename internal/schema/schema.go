// Package schema models the declarative field schema an entity is validated
// against and implements the first pipeline stage: partitioning a dataset
// into schema-valid and schema-invalid records.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// FieldType is the closed set of primitive types a schema field can declare.
// The type is selected by configuration string; unknown strings are a
// configuration error, never resolved dynamically.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInteger
	TypeFloat
)

// String returns the canonical configuration spelling of the type.
func (t FieldType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	default:
		return "string"
	}
}

// ParseFieldType maps a configuration type string onto a FieldType. It
// accepts the database-ish spellings seen in real configs.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string", "str", "text":
		return TypeString, nil
	case "integer", "int", "bigint":
		return TypeInteger, nil
	case "float", "number", "real", "double":
		return TypeFloat, nil
	default:
		return TypeString, fmt.Errorf("unknown field type %q", s)
	}
}

// FieldRule constrains a single field: its primitive type, whether a value is
// required, an optional regular expression the string form must match, and an
// optional minimum numeric bound.
type FieldRule struct {
	Type     FieldType
	Required bool
	Pattern  string
	Min      *float64
}

// Schema is the set of field rules for one entity. Field order is
// deterministic (sorted by name) so error snapshots and exports have a stable
// column layout regardless of config decoding order.
type Schema struct {
	names []string
	rules map[string]FieldRule
}

// New builds a Schema from a name→rule map.
func New(rules map[string]FieldRule) *Schema {
	s := &Schema{
		names: make([]string, 0, len(rules)),
		rules: make(map[string]FieldRule, len(rules)),
	}
	for name, r := range rules {
		s.names = append(s.names, name)
		s.rules[name] = r
	}
	sort.Strings(s.names)
	return s
}

// Fields returns the field names in stable order.
func (s *Schema) Fields() []string { return s.names }

// Rule returns the rule for a field and whether the field is declared.
func (s *Schema) Rule(name string) (FieldRule, bool) {
	r, ok := s.rules[name]
	return r, ok
}

// Has reports whether the field is declared in the schema.
func (s *Schema) Has(name string) bool {
	_, ok := s.rules[name]
	return ok
}

// Len returns the number of declared fields.
func (s *Schema) Len() int { return len(s.rules) }
