// Package rules applies named custom business rules to the deduplicated
// dataset. Rules run in declaration order; enforcement is either gating
// ("stop": the first violated rule aborts the pipeline) or corrective
// ("skip": violating rows are removed and later rules see the reduced set).
package rules

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cast"

	"refinery/pkg/records"
)

// Mode is the rule enforcement policy.
type Mode string

const (
	// ModeStop aborts the pipeline on the first violated rule.
	ModeStop Mode = "stop"
	// ModeSkip drops violating rows and continues.
	ModeSkip Mode = "skip"
)

// ParseMode canonicalizes a configured enforcement mode string.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stop":
		return ModeStop, nil
	case "skip":
		return ModeSkip, nil
	default:
		return "", fmt.Errorf("unknown custom validation mode %q", s)
	}
}

// KindAgeGte is the currently supported rule kind: a date field's implied age
// in whole years must be at least the configured minimum.
const KindAgeGte = "age_gte"

// Rule is one named custom validation over a single field.
type Rule struct {
	Field  string
	Kind   string
	Params map[string]any
}

// Violation is the set of rows that violated one rule, keyed by the rule's
// field. Produced under ModeSkip; under ModeStop the same shape travels
// inside ViolationError.
type Violation struct {
	Field string
	Kind  string
	Rows  []records.Row
}

// ViolationError is the gating failure returned under ModeStop. It carries
// the rule identity and the full violating row set so the caller can write
// the audit artifact before aborting.
type ViolationError struct {
	Field string
	Kind  string
	Rows  []records.Row
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("custom validation %s failed for field %q: %d violating rows", e.Kind, e.Field, len(e.Rows))
}

// Apply evaluates the rules in declaration order against the dataset.
//
// Under ModeStop, the first rule with any violating row returns a
// *ViolationError immediately; later rules are not evaluated. Under ModeSkip,
// each rule's violating rows are removed from the working set (later rules
// see the reduction) and recorded; processing continues.
//
// The returned invalid count is the sum of violation-set sizes across all
// rules actually evaluated. now anchors age computations so runs are
// reproducible in tests.
func Apply(in []records.Row, rules []Rule, mode Mode, now time.Time) (kept []records.Row, violations []Violation, invalid int, err error) {
	kept = in
	for _, rule := range rules {
		match, ok := evaluator(rule, now)
		if !ok {
			log.Printf("skipping unknown rule kind %q on field %q", rule.Kind, rule.Field)
			continue
		}

		var bad, good []records.Row
		for _, row := range kept {
			if match(row.Record) {
				bad = append(bad, row)
			} else {
				good = append(good, row)
			}
		}
		if len(bad) == 0 {
			continue
		}

		invalid += len(bad)
		if mode == ModeStop {
			return kept, violations, invalid, &ViolationError{
				Field: rule.Field,
				Kind:  rule.Kind,
				Rows:  records.Snapshot(bad),
			}
		}
		violations = append(violations, Violation{
			Field: rule.Field,
			Kind:  rule.Kind,
			Rows:  records.Snapshot(bad),
		})
		kept = good
	}
	return kept, violations, invalid, nil
}

// evaluator returns the violation predicate for a rule, or ok=false for an
// unknown kind.
func evaluator(rule Rule, now time.Time) (func(records.Record) bool, bool) {
	switch rule.Kind {
	case KindAgeGte:
		minAge := cast.ToInt(rule.Params["min_age"])
		return func(r records.Record) bool {
			t, ok := parseDate(r[rule.Field])
			if !ok {
				// A value that cannot be read as a date cannot satisfy the
				// age bound.
				return true
			}
			return ageYears(t, now) < minAge
		}, true
	default:
		return nil, false
	}
}

var dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339}

func parseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// ageYears computes the whole-year age at now for the given birth date: the
// year difference, minus one when now's month/day falls before the birthday.
func ageYears(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() ||
		(now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	return years
}
