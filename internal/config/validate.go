// Static validation / linting for Entity configurations. Checks run before
// any pipeline stage and return a list of issues rather than failing on the
// first finding, so a CLI can surface everything at once.
package config

import (
	"fmt"
	"strings"

	"refinery/internal/dedup"
	"refinery/internal/rules"
	"refinery/internal/schema"
)

// IssueSeverity classifies a configuration finding.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the
// entity's configuration (e.g. "settings.duplicate_resolution").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements error so an Issue can travel as one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue in the list has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate statically checks one entity configuration. It does not mutate the
// entity; callers decide whether warnings are fatal.
func Validate(e Entity) []Issue {
	var issues []Issue

	if strings.TrimSpace(e.Source) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source",
			Message:  "source must not be empty",
		})
	}

	issues = append(issues, validateSettings(e.Settings)...)
	issues = append(issues, validateSchema(e.Validations.Schema)...)
	issues = append(issues, validateRules(e)...)
	issues = append(issues, validateProjections(e)...)
	issues = append(issues, validateExport(e.Export)...)

	return issues
}

func validateSettings(s Settings) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.DuplicateResolution) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "settings.duplicate_resolution",
			Message:  "duplicate_resolution is required",
		})
	} else if _, err := dedup.ParsePolicy(s.DuplicateResolution); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "settings.duplicate_resolution",
			Message:  err.Error(),
		})
	}

	if strings.TrimSpace(s.CustomValidationMode) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "settings.custom_validation_mode",
			Message:  "custom_validation_mode is required",
		})
	} else if _, err := rules.ParseMode(s.CustomValidationMode); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "settings.custom_validation_mode",
			Message:  err.Error(),
		})
	}

	for i, key := range s.UniqueComposite {
		if len(key) == 0 {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     fmt.Sprintf("settings.unique_composite[%d]", i),
				Message:  "empty composite key has no effect",
			})
		}
	}
	return issues
}

func validateSchema(s SchemaSection) []Issue {
	var issues []Issue
	if len(s.Fields) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "validations.schema.fields",
			Message:  "at least one schema field is required",
		})
		return issues
	}
	for name, spec := range s.Fields {
		if _, err := schema.ParseFieldType(spec.Type); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("validations.schema.fields.%s.type", name),
				Message:  err.Error(),
			})
		}
	}
	return issues
}

// validateRules enforces the invariant that every field referenced by a
// custom rule exists in the field schema. Unknown rule kinds are warnings so
// configs can reference newer kinds than this binary knows about.
func validateRules(e Entity) []Issue {
	var issues []Issue
	for i, r := range e.Validations.Custom.Rules {
		path := fmt.Sprintf("validations.custom.rules[%d]", i)
		if strings.TrimSpace(r.Field) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".field",
				Message:  "rule field must not be empty",
			})
			continue
		}
		if _, ok := e.Validations.Schema.Fields[r.Field]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".field",
				Message:  fmt.Sprintf("rule field %q is not defined in the schema", r.Field),
			})
		}
		if r.Validation != rules.KindAgeGte {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".validation",
				Message:  fmt.Sprintf("unknown rule kind %q; it will be skipped", r.Validation),
			})
		}
	}
	return issues
}

func validateProjections(e Entity) []Issue {
	var issues []Issue
	for i, p := range e.Projections {
		path := fmt.Sprintf("projections[%d]", i)
		if strings.TrimSpace(p.Name) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".name",
				Message:  "projection name must not be empty",
			})
		}
		if p.Type != "view" && p.Type != "table" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".type",
				Message:  fmt.Sprintf("projection type must be \"view\" or \"table\", got %q", p.Type),
			})
		}
		if strings.TrimSpace(p.Query) == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".query",
				Message:  "empty query; the projection will be skipped",
			})
		}
		// Alias sources are checked again at build time, where a bad source
		// fails only its own projection.
		for orig := range p.Aliases {
			if _, ok := e.Validations.Schema.Fields[orig]; !ok {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     path + ".aliases",
					Message:  fmt.Sprintf("alias source field %q is not defined in the schema", orig),
				})
			}
		}
	}
	return issues
}

func validateExport(ex Export) []Issue {
	var issues []Issue
	switch ex.Kind {
	case "", "csv":
	case "postgres":
		if strings.TrimSpace(ex.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "export.dsn",
				Message:  "postgres export requires a DSN",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "export.kind",
			Message:  fmt.Sprintf("unknown export kind %q", ex.Kind),
		})
	}
	return issues
}
