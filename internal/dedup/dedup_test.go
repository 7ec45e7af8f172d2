package dedup

import (
	"testing"

	"refinery/pkg/records"
)

func mk(idx int, fields map[string]any) records.Row {
	r := records.Record{}
	for k, v := range fields {
		r[k] = v
	}
	return records.Row{Index: idx, Record: r}
}

func indexes(rows []records.Row) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.Index
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func tripleGroup() []records.Row {
	return []records.Row{
		mk(1, map[string]any{"a": "x", "b": "1", "c": "first"}),
		mk(2, map[string]any{"a": "x", "b": "1", "c": "second"}),
		mk(3, map[string]any{"a": "x", "b": "1", "c": "third"}),
		mk(4, map[string]any{"a": "y", "b": "2", "c": "solo"}),
	}
}

func TestKeepFirst(t *testing.T) {
	e := Engine{Keys: [][]string{{"a", "b"}}, Policy: KeepFirst}
	kept, removed := e.Apply(tripleGroup())
	if !equalInts(indexes(kept), []int{1, 4}) {
		t.Fatalf("kept = %v, want [1 4]", indexes(kept))
	}
	if !equalInts(indexes(removed), []int{2, 3}) {
		t.Fatalf("removed = %v, want [2 3]", indexes(removed))
	}
}

func TestKeepLastSurvivorArithmetic(t *testing.T) {
	// Group of 3 sharing (a,b): keep_last yields 1 survivor (the last by row
	// order) and 2 removed rows.
	e := Engine{Keys: [][]string{{"a", "b"}}, Policy: KeepLast}
	kept, removed := e.Apply(tripleGroup())
	if !equalInts(indexes(kept), []int{3, 4}) {
		t.Fatalf("kept = %v, want [3 4]", indexes(kept))
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %d rows, want 2", len(removed))
	}
}

func TestExcludeAllRemovesWholeGroup(t *testing.T) {
	e := Engine{Keys: [][]string{{"a", "b"}}, Policy: ExcludeAll}
	kept, removed := e.Apply(tripleGroup())
	if !equalInts(indexes(kept), []int{4}) {
		t.Fatalf("kept = %v, want [4]", indexes(kept))
	}
	if len(removed) != 3 {
		t.Fatalf("removed = %d rows, want 3 (no survivor)", len(removed))
	}
}

func TestKeyOrderSensitivity(t *testing.T) {
	// Overlapping keys: applying [a] then [b] can keep a different survivor
	// set than [b] then [a]. The reduction is cumulative and order-dependent.
	input := func() []records.Row {
		return []records.Row{
			mk(1, map[string]any{"a": "x", "b": "1"}),
			mk(2, map[string]any{"a": "x", "b": "2"}),
			mk(3, map[string]any{"a": "y", "b": "2"}),
		}
	}

	ab := Engine{Keys: [][]string{{"a"}, {"b"}}, Policy: KeepFirst}
	keptAB, _ := ab.Apply(input())
	// key a: rows 1,2 collide -> keep 1; then key b over {1,3}: no collision.
	if !equalInts(indexes(keptAB), []int{1, 3}) {
		t.Fatalf("[a b] kept = %v, want [1 3]", indexes(keptAB))
	}

	ba := Engine{Keys: [][]string{{"b"}, {"a"}}, Policy: KeepFirst}
	keptBA, _ := ba.Apply(input())
	// key b: rows 2,3 collide -> keep 2; then key a over {1,2}: collide -> keep 1.
	if !equalInts(indexes(keptBA), []int{1}) {
		t.Fatalf("[b a] kept = %v, want [1]", indexes(keptBA))
	}
}

func TestRemovedReportUnionsAcrossKeys(t *testing.T) {
	in := []records.Row{
		mk(1, map[string]any{"a": "x", "b": "1"}),
		mk(2, map[string]any{"a": "x", "b": "1"}),
		mk(3, map[string]any{"a": "z", "b": "1"}),
	}
	e := Engine{Keys: [][]string{{"a"}, {"b"}}, Policy: KeepFirst}
	kept, removed := e.Apply(in)
	// key a removes row 2; key b then sees {1,3} and removes row 3.
	if !equalInts(indexes(kept), []int{1}) {
		t.Fatalf("kept = %v, want [1]", indexes(kept))
	}
	if !equalInts(indexes(removed), []int{2, 3}) {
		t.Fatalf("removed = %v, want [2 3]", indexes(removed))
	}
}

func TestNilAndEmptyKeyDiffer(t *testing.T) {
	in := []records.Row{
		mk(1, map[string]any{"a": "x", "b": nil}),
		mk(2, map[string]any{"a": "x", "b": ""}),
	}
	e := Engine{Keys: [][]string{{"a", "b"}}, Policy: KeepFirst}
	kept, removed := e.Apply(in)
	if len(kept) != 2 || len(removed) != 0 {
		t.Fatalf("nil and empty keyed together: kept %v removed %v", indexes(kept), indexes(removed))
	}
}

func TestNoKeysPassthrough(t *testing.T) {
	in := tripleGroup()
	kept, removed := Engine{Policy: KeepFirst}.Apply(in)
	if len(kept) != len(in) || len(removed) != 0 {
		t.Fatalf("no-key engine should pass through; kept %d removed %d", len(kept), len(removed))
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{
		"first": KeepFirst, "keep_first": KeepFirst,
		"last": KeepLast, "keep_last": KeepLast,
		"exclude_all": ExcludeAll,
	} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("newest"); err == nil {
		t.Fatal("ParsePolicy(newest) should fail")
	}
}
