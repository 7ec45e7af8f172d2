// Package config defines the per-entity configuration model and its static
// validator. Configuration is loaded from a YAML file through viper; the Go
// structs mirror the YAML structure under transformations_config.<entity>.
//
// Example (trimmed):
//
//	transformations_config:
//	  employees:
//	    source: data/employees.csv
//	    settings:
//	      duplicate_resolution: keep_first
//	      custom_validation_mode: skip
//	      unique_composite:
//	        - [employee_id]
//	        - [first_name, last_name]
//	    validations:
//	      schema:
//	        fields:
//	          employee_id: {type: integer, required: true, min: 1}
//	          birthday_on: {type: string, required: true, pattern: '^\d{4}-\d{2}-\d{2}$'}
//	      custom:
//	        rules:
//	          - {field: birthday_on, validation: age_gte, params: {min_age: 18}}
//	    projections:
//	      - name: adults
//	        type: view
//	        query: SELECT employee_id, birthday_on FROM employees
//	        aliases: {employee_id: id}
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// configRoot is the top-level YAML key holding all entity configurations.
const configRoot = "transformations_config"

// Entity is the full configuration record for one entity, immutable for the
// duration of a run.
type Entity struct {
	Source      string       `mapstructure:"source"`
	Settings    Settings     `mapstructure:"settings"`
	Validations Validations  `mapstructure:"validations"`
	Projections []Projection `mapstructure:"projections"`
	Export      Export       `mapstructure:"export"`
}

// Settings carries the stage policies.
type Settings struct {
	// DuplicateResolution is keep_first, keep_last, or exclude_all (legacy
	// "first"/"last" are accepted and canonicalized).
	DuplicateResolution string `mapstructure:"duplicate_resolution"`

	// CustomValidationMode is "stop" or "skip".
	CustomValidationMode string `mapstructure:"custom_validation_mode"`

	// UniqueComposite lists the composite uniqueness keys, applied in order.
	UniqueComposite [][]string `mapstructure:"unique_composite"`
}

// Validations groups the declarative schema and the custom rule set.
type Validations struct {
	Schema SchemaSection `mapstructure:"schema"`
	Custom CustomSection `mapstructure:"custom"`
}

// SchemaSection holds the field schema.
type SchemaSection struct {
	Fields map[string]FieldSpec `mapstructure:"fields"`
}

// FieldSpec is the declarative constraint set for one field.
type FieldSpec struct {
	Type     string   `mapstructure:"type"`
	Required bool     `mapstructure:"required"`
	Pattern  string   `mapstructure:"pattern"`
	Min      *float64 `mapstructure:"min"`
}

// CustomSection holds the ordered custom rule list.
type CustomSection struct {
	Rules []RuleSpec `mapstructure:"rules"`
}

// RuleSpec declares one custom rule. The YAML key for the kind is
// "validation" for compatibility with existing configuration files.
type RuleSpec struct {
	Field      string         `mapstructure:"field"`
	Validation string         `mapstructure:"validation"`
	Params     map[string]any `mapstructure:"params"`
}

// Projection declares one derived relation. The YAML key for the kind is
// "type" for compatibility with existing configuration files.
type Projection struct {
	Name    string            `mapstructure:"name"`
	Type    string            `mapstructure:"type"` // "view" or "table"
	Query   string            `mapstructure:"query"`
	Aliases map[string]string `mapstructure:"aliases"`
}

// Export selects an optional additional sink for materialized projections.
// CSV artifacts are always written; a configured sink is additive.
type Export struct {
	Kind string `mapstructure:"kind"` // "", "csv", or "postgres"
	DSN  string `mapstructure:"dsn"`
}

// LoadEntity extracts one entity's configuration from an already-read viper
// instance. A missing entity is a configuration error that aborts before any
// stage runs.
func LoadEntity(v *viper.Viper, entity string) (Entity, error) {
	key := configRoot + "." + entity
	if !v.IsSet(key) {
		return Entity{}, fmt.Errorf("entity %q not found in the configuration", entity)
	}
	var e Entity
	if err := v.UnmarshalKey(key, &e); err != nil {
		return Entity{}, fmt.Errorf("parse configuration for entity %q: %w", entity, err)
	}
	return e, nil
}
