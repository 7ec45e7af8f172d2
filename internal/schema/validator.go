package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"refinery/pkg/records"
)

// ErrorRecord describes one record that failed schema validation: its
// original row index, a snapshot of its field values, and one message per
// violated field in "<field>: <reason>" form.
type ErrorRecord struct {
	Row      int
	Record   records.Record
	Messages []string
}

// nullableDefaults is a compatibility shim for the current dataset: these
// fields arrive empty for a large share of rows and are substituted before
// type checking. This is not a general default-injection mechanism.
var nullableDefaults = map[string]any{
	"trial_period_ends_on":     "",
	"ends_on":                  "",
	"es_contract_observations": "",
	"pt_contract_type_id":      int64(0),
}

// Validator validates records against a Schema. Per-field metadata (compiled
// patterns, type kinds) is precomputed once and reused across the dataset.
type Validator struct {
	Schema *Schema

	metaOnce sync.Once
	meta     []fieldMeta
}

type fieldMeta struct {
	name     string
	typ      FieldType
	required bool
	min      *float64
	pattern  *regexp.Regexp
	patSrc   string
}

func (v *Validator) buildMeta() {
	v.metaOnce.Do(func() {
		fields := v.Schema.Fields()
		v.meta = make([]fieldMeta, 0, len(fields))
		for _, name := range fields {
			r, _ := v.Schema.Rule(name)
			m := fieldMeta{
				name:     name,
				typ:      r.Type,
				required: r.Required,
				min:      r.Min,
				patSrc:   r.Pattern,
			}
			if r.Pattern != "" {
				// An invalid pattern is reported against every row; the
				// config validator should have rejected it already.
				m.pattern, _ = regexp.Compile(r.Pattern)
			}
			v.meta = append(v.meta, m)
		}
	})
}

// Apply partitions the dataset into schema-valid rows and error records.
// Every record lands in exactly one of the two results. Valid records have
// their typed fields coerced in place (int64/float64); error records carry a
// snapshot taken before any coercion of the failing row.
func (v *Validator) Apply(in []records.Row) ([]records.Row, []ErrorRecord) {
	v.buildMeta()

	valid := make([]records.Row, 0, len(in))
	var errs []ErrorRecord

	for _, row := range in {
		applyDefaults(row.Record)

		var msgs []string
		coerced := make(map[string]any, len(v.meta))
		for i := range v.meta {
			fm := &v.meta[i]
			val, reason := fm.check(row.Record[fm.name])
			if reason != "" {
				msgs = append(msgs, fmt.Sprintf("%s: %s", fm.name, reason))
				continue
			}
			coerced[fm.name] = val
		}

		if len(msgs) > 0 {
			errs = append(errs, ErrorRecord{
				Row:      row.Index,
				Record:   row.Record.Clone(),
				Messages: msgs,
			})
			continue
		}
		for name, val := range coerced {
			row.Record[name] = val
		}
		valid = append(valid, row)
	}
	return valid, errs
}

// applyDefaults substitutes the known nullable-field defaults for missing or
// nil values. Only fields present in the shim table are touched.
func applyDefaults(r records.Record) {
	for name, def := range nullableDefaults {
		if v, ok := r[name]; !ok || v == nil {
			r[name] = def
		} else if s, isStr := v.(string); isStr && s == "" {
			r[name] = def
		}
	}
}

// check validates one value against the field rule. It returns the coerced
// value and an empty reason on success, or a human-readable reason on
// failure.
func (fm *fieldMeta) check(val any) (any, string) {
	empty := val == nil
	if s, ok := val.(string); ok && s == "" {
		empty = true
	}
	if empty {
		if fm.required {
			return nil, "field required"
		}
		return val, ""
	}

	coerced, reason := fm.coerce(val)
	if reason != "" {
		return nil, reason
	}

	if fm.pattern != nil {
		if !fm.pattern.MatchString(stringForm(coerced)) {
			return nil, fmt.Sprintf("does not match pattern %q", fm.patSrc)
		}
	}

	if fm.min != nil {
		if n, ok := numericForm(coerced); ok && n < *fm.min {
			return nil, fmt.Sprintf("value below minimum %v", *fm.min)
		}
	}
	return coerced, ""
}

// coerce enforces the declared primitive type, converting string input where
// possible. Integer accepts whole floats; float accepts integers.
func (fm *fieldMeta) coerce(val any) (any, string) {
	switch fm.typ {
	case TypeInteger:
		switch t := val.(type) {
		case int:
			return int64(t), ""
		case int64:
			return t, ""
		case float64:
			if t == float64(int64(t)) {
				return int64(t), ""
			}
			return nil, "not a valid integer"
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return i, ""
			}
			return nil, "not a valid integer"
		default:
			return nil, "not a valid integer"
		}
	case TypeFloat:
		switch t := val.(type) {
		case int:
			return float64(t), ""
		case int64:
			return float64(t), ""
		case float64:
			return t, ""
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f, ""
			}
			return nil, "not a valid float"
		default:
			return nil, "not a valid float"
		}
	default:
		return stringForm(val), ""
	}
}

// stringForm converts common scalar types without the overhead of fmt.Sprint.
func stringForm(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}

func numericForm(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}
