package projection

import (
	"context"
	"fmt"
	"log"

	"refinery/internal/engine"
	"refinery/internal/schema"
)

// Kind selects how a projection is constructed.
const (
	// KindView creates a live relation, re-evaluated on every read.
	KindView = "view"
	// KindTable materializes a frozen snapshot at build time.
	KindTable = "table"
)

// Spec declares one projection: a named derived relation over the validated
// base dataset.
type Spec struct {
	Name    string
	Kind    string // "view" or "table"
	Query   string
	Aliases map[string]string // schema field name → output name
}

// Result records the outcome of building one projection. Skipped marks specs
// with an empty expression (a warning, not a failure); Err carries a
// per-projection failure that never affects sibling projections.
type Result struct {
	Spec    Spec
	Skipped bool
	Err     error
}

// Built reports whether the projection exists in the engine.
func (r Result) Built() bool { return !r.Skipped && r.Err == nil }

// Builder derives projections from the validated dataset registered under
// BaseTable.
type Builder struct {
	Entity    string
	BaseTable string
	Schema    *schema.Schema
	Session   *engine.Session
}

// Build constructs every projection in order. One projection's failure
// (unknown alias source, malformed expression, engine rejection) is logged
// and collected; the remaining projections still build. Partial success is
// normal and surfaces in the run summary.
func (b *Builder) Build(ctx context.Context, specs []Spec) []Result {
	results := make([]Result, 0, len(specs))
	for _, spec := range specs {
		res := Result{Spec: spec}
		switch {
		case spec.Query == "":
			log.Printf("warning: no query defined for %s %q, skipping", spec.Kind, spec.Name)
			res.Skipped = true
		default:
			if err := b.build(ctx, spec); err != nil {
				log.Printf("failed to build %s %q: %v", spec.Kind, spec.Name, err)
				res.Err = err
			}
		}
		results = append(results, res)
	}
	return results
}

func (b *Builder) build(ctx context.Context, spec Spec) error {
	for orig := range spec.Aliases {
		if !b.Schema.Has(orig) {
			return fmt.Errorf("alias source field %q is not defined in the schema", orig)
		}
	}

	query, err := newRewriter(b.Entity, b.BaseTable, b.Schema, spec.Aliases).rewrite(spec.Query)
	if err != nil {
		return err
	}

	switch spec.Kind {
	case KindView:
		return b.Session.CreateView(ctx, spec.Name, query)
	case KindTable:
		return b.Session.CreateTableAs(ctx, spec.Name, query)
	default:
		return fmt.Errorf("unsupported projection kind %q", spec.Kind)
	}
}
