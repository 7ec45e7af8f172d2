// Package records defines the in-memory record model shared by every pipeline
// stage. A Record is a loose field→value map; a Row pairs a Record with its
// 1-based position in the original input, which is the identity used by all
// error and audit artifacts.
package records

// Record maps field names to scalar values. Values are strings as loaded from
// the source; schema validation coerces typed fields to int64/float64 in
// place. Absent or empty cells are nil.
type Record map[string]any

// Row is a Record plus its stable, 1-based input position. The index survives
// every stage unchanged so that downstream artifacts can point back at the
// original file line.
type Row struct {
	Index  int
	Record Record
}

// Clone returns a shallow copy of the record. Values are scalars, so a
// shallow copy is a full copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Snapshot returns copies of the given rows. Stages that report removed or
// rejected rows snapshot them so later in-place coercions cannot alter the
// audit trail.
func Snapshot(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row{Index: r.Index, Record: r.Record.Clone()}
	}
	return out
}
