package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

const sampleYAML = `
transformations_config:
  employees:
    source: data/employees.csv
    settings:
      duplicate_resolution: keep_first
      custom_validation_mode: skip
      unique_composite:
        - [employee_id]
        - [first_name, last_name]
    validations:
      schema:
        fields:
          employee_id: {type: integer, required: true, min: 1}
          first_name: {type: string, required: true}
          last_name: {type: string, required: true}
          birthday_on: {type: string, required: true}
      custom:
        rules:
          - {field: birthday_on, validation: age_gte, params: {min_age: 18}}
    projections:
      - name: adults
        type: view
        query: SELECT employee_id, birthday_on FROM employees
        aliases: {employee_id: id}
`

func loadYAML(t *testing.T, doc string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(doc)); err != nil {
		t.Fatalf("read config: %v", err)
	}
	return v
}

func TestLoadEntity(t *testing.T) {
	v := loadYAML(t, sampleYAML)
	e, err := LoadEntity(v, "employees")
	if err != nil {
		t.Fatalf("load entity: %v", err)
	}
	if e.Source != "data/employees.csv" {
		t.Fatalf("source = %q", e.Source)
	}
	if got := len(e.Settings.UniqueComposite); got != 2 {
		t.Fatalf("unique_composite keys = %d, want 2", got)
	}
	if e.Settings.UniqueComposite[1][1] != "last_name" {
		t.Fatalf("composite key order lost: %v", e.Settings.UniqueComposite)
	}
	if len(e.Validations.Custom.Rules) != 1 || e.Validations.Custom.Rules[0].Validation != "age_gte" {
		t.Fatalf("rules = %+v", e.Validations.Custom.Rules)
	}
	if e.Projections[0].Aliases["employee_id"] != "id" {
		t.Fatalf("aliases = %v", e.Projections[0].Aliases)
	}
	if spec, ok := e.Validations.Schema.Fields["employee_id"]; !ok || spec.Min == nil || *spec.Min != 1 {
		t.Fatalf("field spec = %+v", spec)
	}
}

func TestLoadEntityMissing(t *testing.T) {
	v := loadYAML(t, sampleYAML)
	if _, err := LoadEntity(v, "departments"); err == nil {
		t.Fatal("missing entity should fail")
	}
}

func TestValidateOK(t *testing.T) {
	v := loadYAML(t, sampleYAML)
	e, err := LoadEntity(v, "employees")
	if err != nil {
		t.Fatalf("load entity: %v", err)
	}
	if issues := Validate(e); HasErrors(issues) {
		t.Fatalf("unexpected errors: %v", issues)
	}
}

func TestValidateMissingSettings(t *testing.T) {
	e := Entity{
		Source: "x.csv",
		Validations: Validations{
			Schema: SchemaSection{Fields: map[string]FieldSpec{"a": {Type: "string"}}},
		},
	}
	issues := Validate(e)
	if !HasErrors(issues) {
		t.Fatal("missing settings should produce errors")
	}
	paths := map[string]bool{}
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			paths[iss.Path] = true
		}
	}
	if !paths["settings.duplicate_resolution"] || !paths["settings.custom_validation_mode"] {
		t.Fatalf("missing expected issue paths: %v", issues)
	}
}

func TestValidateUnknownPolicy(t *testing.T) {
	e := Entity{
		Source: "x.csv",
		Settings: Settings{
			DuplicateResolution:  "newest",
			CustomValidationMode: "halt",
		},
		Validations: Validations{
			Schema: SchemaSection{Fields: map[string]FieldSpec{"a": {Type: "string"}}},
		},
	}
	issues := Validate(e)
	errs := 0
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs++
		}
	}
	if errs != 2 {
		t.Fatalf("errors = %d, want 2 (policy and mode): %v", errs, issues)
	}
}

func TestValidateRuleFieldMustExist(t *testing.T) {
	e := Entity{
		Source: "x.csv",
		Settings: Settings{
			DuplicateResolution:  "keep_last",
			CustomValidationMode: "stop",
		},
		Validations: Validations{
			Schema: SchemaSection{Fields: map[string]FieldSpec{"a": {Type: "string"}}},
			Custom: CustomSection{Rules: []RuleSpec{{Field: "ghost", Validation: "age_gte"}}},
		},
	}
	issues := Validate(e)
	if !HasErrors(issues) {
		t.Fatalf("rule on undeclared field must be an error: %v", issues)
	}
}

func TestValidateUnknownRuleKindIsWarning(t *testing.T) {
	e := Entity{
		Source: "x.csv",
		Settings: Settings{
			DuplicateResolution:  "keep_last",
			CustomValidationMode: "stop",
		},
		Validations: Validations{
			Schema: SchemaSection{Fields: map[string]FieldSpec{"a": {Type: "string"}}},
			Custom: CustomSection{Rules: []RuleSpec{{Field: "a", Validation: "future_kind"}}},
		},
	}
	issues := Validate(e)
	if HasErrors(issues) {
		t.Fatalf("unknown rule kind must only warn: %v", issues)
	}
	found := false
	for _, iss := range issues {
		if iss.Severity == SeverityWarning && strings.Contains(iss.Message, "future_kind") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning naming the unknown kind: %v", issues)
	}
}

func TestValidateProjectionType(t *testing.T) {
	e := Entity{
		Source: "x.csv",
		Settings: Settings{
			DuplicateResolution:  "keep_last",
			CustomValidationMode: "stop",
		},
		Validations: Validations{
			Schema: SchemaSection{Fields: map[string]FieldSpec{"a": {Type: "string"}}},
		},
		Projections: []Projection{{Name: "p", Type: "matview", Query: "SELECT a FROM x"}},
	}
	if !HasErrors(Validate(e)) {
		t.Fatal("bad projection type should be an error")
	}
}

func TestValidatePostgresExportNeedsDSN(t *testing.T) {
	e := Entity{
		Source: "x.csv",
		Settings: Settings{
			DuplicateResolution:  "keep_last",
			CustomValidationMode: "stop",
		},
		Validations: Validations{
			Schema: SchemaSection{Fields: map[string]FieldSpec{"a": {Type: "string"}}},
		},
		Export: Export{Kind: "postgres"},
	}
	if !HasErrors(Validate(e)) {
		t.Fatal("postgres export without DSN should be an error")
	}
}
