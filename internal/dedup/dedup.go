// Package dedup removes rows violating composite-key uniqueness constraints.
//
// Keys are applied sequentially in declaration order, and each key's pass
// operates on the dataset as already reduced by the prior keys. Two
// overlapping keys therefore produce a cumulative, order-dependent reduction.
// That is a deliberate, documented property of the pipeline, not an error;
// consumers depend on it.
package dedup

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"refinery/pkg/records"
)

// Policy selects the winner inside a duplicate group.
type Policy string

const (
	// KeepFirst retains the earliest row (by current dataset order) of each
	// duplicate group.
	KeepFirst Policy = "keep_first"
	// KeepLast retains the latest row of each duplicate group.
	KeepLast Policy = "keep_last"
	// ExcludeAll drops every row of any group with more than one member,
	// including what would otherwise have been the survivor.
	ExcludeAll Policy = "exclude_all"
)

// ParsePolicy canonicalizes a configured policy string. The legacy spellings
// "first" and "last" from older configs are accepted.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first", "keep_first":
		return KeepFirst, nil
	case "last", "keep_last":
		return KeepLast, nil
	case "exclude_all":
		return ExcludeAll, nil
	default:
		return "", fmt.Errorf("unknown duplicate resolution policy %q", s)
	}
}

// Engine removes duplicate rows according to the configured composite keys
// and policy.
type Engine struct {
	// Keys are the composite uniqueness constraints, applied in order. Each
	// key is an ordered list of field names.
	Keys [][]string
	// Policy selects the survivor within each duplicate group.
	Policy Policy
}

// Apply runs every composite key over the dataset and returns the surviving
// rows plus the removed-row report. The report unions each key's removals in
// pass order; a row removed once no longer participates in later keys, but
// the report is never de-duplicated across keys.
//
// Tie-break for KeepFirst/KeepLast is the dataset's current row order, never
// a data value, so the result is deterministic for a fixed input order.
func (e Engine) Apply(in []records.Row) (kept, removed []records.Row) {
	kept = in
	for _, key := range e.Keys {
		if len(key) == 0 {
			continue
		}
		var dropped []records.Row
		kept, dropped = e.applyKey(kept, key)
		removed = append(removed, records.Snapshot(dropped)...)
	}
	return kept, removed
}

func (e Engine) applyKey(in []records.Row, key []string) (kept, removed []records.Row) {
	// Group rows by the 64-bit hash of the key tuple. Groups hold positions
	// into the current slice so survivor selection stays order-based.
	groups := make(map[uint64][]int, len(in))
	order := make([]uint64, 0, len(in))
	for i, row := range in {
		h := hashKey(row.Record, key)
		if _, seen := groups[h]; !seen {
			order = append(order, h)
		}
		groups[h] = append(groups[h], i)
	}

	keep := make([]bool, len(in))
	for _, h := range order {
		members := groups[h]
		if len(members) == 1 {
			keep[members[0]] = true
			continue
		}
		switch e.Policy {
		case KeepLast:
			keep[members[len(members)-1]] = true
		case ExcludeAll:
			// no survivor
		default: // KeepFirst
			keep[members[0]] = true
		}
	}

	kept = make([]records.Row, 0, len(in))
	for i, row := range in {
		if keep[i] {
			kept = append(kept, row)
		} else {
			removed = append(removed, row)
		}
	}
	return kept, removed
}

// hashKey hashes the tuple of key-field values. Values join on an unlikely
// separator with a nil marker so ("a","") and ("a",nil) key differently.
// 64-bit xxh3 collisions are negligible at in-memory dataset scale.
func hashKey(r records.Record, key []string) uint64 {
	var b strings.Builder
	for i, field := range key {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		switch t := r[field].(type) {
		case nil:
			b.WriteByte('\x00')
		case string:
			b.WriteString(t)
		default:
			fmt.Fprint(&b, t)
		}
	}
	return xxh3.HashString(b.String())
}
