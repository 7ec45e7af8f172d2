package export

import (
	"context"
	"fmt"
	"io"

	"refinery/internal/engine"
	"refinery/internal/projection"
)

// RuleCount is one rule's violation tally for the summary.
type RuleCount struct {
	Field string
	Kind  string
	Count int
}

// Summary aggregates the per-stage counts of one run.
type Summary struct {
	TotalRows         int
	ValidRows         int
	SchemaErrors      int
	DuplicatesRemoved int
	CustomInvalid     int
	Rules             []RuleCount
	Projections       []projection.Result
}

// Print writes the human-readable run summary. Projection row counts are
// fetched live from the session; a count that cannot be fetched reports
// "error" for that projection rather than failing the summary.
func (s Summary) Print(ctx context.Context, w io.Writer, sess *engine.Session) {
	fmt.Fprintf(w, "\nProcessing Summary:\n")
	fmt.Fprintf(w, "Total rows processed: %d\n", s.TotalRows)
	fmt.Fprintf(w, "Total valid rows after schema validation: %d\n", s.ValidRows)
	fmt.Fprintf(w, "Total rows with schema validation errors: %d\n", s.SchemaErrors)
	fmt.Fprintf(w, "Total rows with custom validation errors: %d\n", s.CustomInvalid)
	fmt.Fprintf(w, "Total duplicate rows removed: %d\n", s.DuplicatesRemoved)

	if len(s.Rules) > 0 {
		fmt.Fprintf(w, "\nRule Violations:\n")
		for _, r := range s.Rules {
			fmt.Fprintf(w, "  %s (%s): %d rows\n", r.Field, r.Kind, r.Count)
		}
	}

	if len(s.Projections) == 0 {
		return
	}
	fmt.Fprintf(w, "\nProjection Summary:\n")
	for _, res := range s.Projections {
		switch {
		case res.Skipped:
			fmt.Fprintf(w, "  %s (%s): skipped\n", res.Spec.Name, res.Spec.Kind)
		case res.Err != nil:
			fmt.Fprintf(w, "  %s (%s): error\n", res.Spec.Name, res.Spec.Kind)
		default:
			n, err := sess.Count(ctx, res.Spec.Name)
			if err != nil {
				fmt.Fprintf(w, "  %s (%s): error\n", res.Spec.Name, res.Spec.Kind)
				continue
			}
			fmt.Fprintf(w, "  %s (%s): %d rows\n", res.Spec.Name, res.Spec.Kind, n)
		}
	}
}
