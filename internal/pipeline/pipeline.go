// Package pipeline sequences the validation-and-projection stages for one
// entity run: schema validation, deduplication, rule validation, projection
// build, and export. It owns the stop/continue decision at each stage
// boundary and guarantees resource release on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"refinery/internal/config"
	"refinery/internal/dedup"
	"refinery/internal/engine"
	"refinery/internal/export"
	"refinery/internal/export/postgres"
	"refinery/internal/metrics"
	"refinery/internal/parser/csv"
	"refinery/internal/projection"
	"refinery/internal/rules"
	"refinery/internal/schema"
	"refinery/pkg/records"
)

// Options configures one run. The entity configuration is expected to have
// passed config.Validate already; policy strings are still canonicalized here
// so a programmatic caller cannot smuggle in unknown values.
type Options struct {
	Entity    string
	Config    config.Entity
	OutputDir string

	// EngineDSN selects the query engine database; in-memory when empty.
	EngineDSN string

	// Now anchors age computations; time.Now() when zero.
	Now time.Time

	// Stdout receives the run summary; os.Stdout when nil.
	Stdout io.Writer
}

// Run executes the full pipeline for one entity. Collectable errors (schema
// rows, duplicates, skip-mode rule violations, per-projection failures) are
// gathered into artifacts and never interrupt sibling work. Gating errors
// (bad policy strings, unreadable source, stop-mode rule violations, engine
// failures) abort the run; their artifacts are written before Run returns.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	policy, err := dedup.ParsePolicy(cfg.Settings.DuplicateResolution)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	mode, err := rules.ParseMode(cfg.Settings.CustomValidationMode)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	sch, err := buildSchema(cfg.Validations.Schema.Fields)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	reporter := &export.Reporter{
		OutputDir:  opts.OutputDir,
		Entity:     opts.Entity,
		FieldOrder: sch.Fields(),
	}

	// Stage 1: load the source fully into memory.
	log.Printf("loading source %s", cfg.Source)
	start := time.Now()
	_, input, err := csv.Load(cfg.Source, csv.Options{TrimSpace: true})
	metrics.RecordStage(opts.Entity, "load", err, time.Since(start))
	if err != nil {
		return err
	}
	metrics.RecordRows(opts.Entity, "input", len(input))

	// Stage 2: schema validation partitions input into valid and error rows.
	log.Printf("validating schema")
	start = time.Now()
	valid, schemaErrs := (&schema.Validator{Schema: sch}).Apply(input)
	metrics.RecordStage(opts.Entity, "schema_validation", nil, time.Since(start))
	metrics.RecordRows(opts.Entity, "valid", len(valid))
	metrics.RecordRows(opts.Entity, "schema_errors", len(schemaErrs))
	log.Printf("validated %d records successfully, found %d invalid records", len(valid), len(schemaErrs))

	if len(schemaErrs) > 0 {
		if err := reporter.WriteErrorRecords("schema_validation", schemaErrs); err != nil {
			return err
		}
		if mode == rules.ModeStop {
			log.Printf("schema validation errors found and mode is stop; halting after reporting")
			return nil
		}
	}

	// Stage 3: deduplication by composite keys, sequential and cumulative.
	log.Printf("removing duplicates")
	start = time.Now()
	deduped, removed := dedup.Engine{
		Keys:   cfg.Settings.UniqueComposite,
		Policy: policy,
	}.Apply(valid)
	metrics.RecordStage(opts.Entity, "deduplication", nil, time.Since(start))
	metrics.RecordRows(opts.Entity, "duplicates_removed", len(removed))
	if err := reporter.WriteRemovedRows("duplicates", removed); err != nil {
		return err
	}

	// Stage 4: custom rules. A stop-mode violation aborts after its artifact
	// is written; skip-mode violations reduce the working set and continue.
	log.Printf("executing custom validations")
	start = time.Now()
	kept, violations, invalid, ruleErr := rules.Apply(deduped, ruleSpecs(cfg), mode, now)
	metrics.RecordStage(opts.Entity, "rule_validation", ruleErr, time.Since(start))
	metrics.RecordRows(opts.Entity, "rule_violations", invalid)
	if ruleErr != nil {
		var verr *rules.ViolationError
		if errors.As(ruleErr, &verr) {
			if werr := reporter.WriteRemovedRows("custom_"+verr.Field, verr.Rows); werr != nil {
				log.Printf("failed to write violation artifact: %v", werr)
			}
		}
		return ruleErr
	}
	if err := reporter.WriteViolations(violations); err != nil {
		return err
	}

	// Stage 5: register the validated dataset and build projections.
	sess, err := engine.Open(ctx, opts.EngineDSN)
	if err != nil {
		return err
	}
	defer sess.Close()

	baseTable := opts.Entity + "_stage"
	if err := registerBase(ctx, sess, baseTable, sch.Fields(), kept); err != nil {
		return err
	}

	log.Printf("creating projections")
	start = time.Now()
	builder := &projection.Builder{
		Entity:    opts.Entity,
		BaseTable: baseTable,
		Schema:    sch,
		Session:   sess,
	}
	results := builder.Build(ctx, projectionSpecs(cfg))
	metrics.RecordStage(opts.Entity, "projection_build", nil, time.Since(start))

	// Stage 6: export built projections; one export failure does not stop the
	// others.
	log.Printf("exporting projections")
	start = time.Now()
	exported := 0
	for _, res := range results {
		if !res.Built() {
			continue
		}
		if err := reporter.ExportProjection(ctx, sess, res.Spec.Name); err != nil {
			log.Printf("failed to export projection %q: %v", res.Spec.Name, err)
			continue
		}
		exported++
	}
	metrics.RecordStage(opts.Entity, "export", nil, time.Since(start))
	metrics.RecordRows(opts.Entity, "exported", exported)

	if cfg.Export.Kind == "postgres" {
		if err := loadPostgres(ctx, sess, cfg.Export.DSN, results); err != nil {
			return err
		}
	}

	summary := export.Summary{
		TotalRows:         len(input),
		ValidRows:         len(valid),
		SchemaErrors:      len(schemaErrs),
		DuplicatesRemoved: len(removed),
		CustomInvalid:     invalid,
		Rules:             ruleCounts(violations),
		Projections:       results,
	}
	summary.Print(ctx, stdout, sess)
	return nil
}

// registerBase loads the validated dataset into the engine as the base table
// all projections resolve against.
func registerBase(ctx context.Context, sess *engine.Session, table string, fields []string, rows []records.Row) error {
	data := make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(fields))
		for j, f := range fields {
			vals[j] = row.Record[f]
		}
		data[i] = vals
	}
	if err := sess.CreateBase(ctx, table, fields, data); err != nil {
		return err
	}
	log.Printf("loaded %d validated rows into %s", len(rows), table)
	return nil
}

// loadPostgres additionally bulk-loads every built projection into the
// configured Postgres database.
func loadPostgres(ctx context.Context, sess *engine.Session, dsn string, results []projection.Result) error {
	sink, closeFn, err := postgres.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, res := range results {
		if !res.Built() {
			continue
		}
		columns, rows, err := sess.QueryAll(ctx, res.Spec.Name)
		if err != nil {
			log.Printf("failed to read projection %q for postgres export: %v", res.Spec.Name, err)
			continue
		}
		n, err := sink.Load(ctx, res.Spec.Name, columns, rows)
		if err != nil {
			log.Printf("failed to load projection %q into postgres: %v", res.Spec.Name, err)
			continue
		}
		log.Printf("loaded %d rows of projection %q into postgres", n, res.Spec.Name)
	}
	return nil
}

func buildSchema(fields map[string]config.FieldSpec) (*schema.Schema, error) {
	out := make(map[string]schema.FieldRule, len(fields))
	for name, spec := range fields {
		typ, err := schema.ParseFieldType(spec.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = schema.FieldRule{
			Type:     typ,
			Required: spec.Required,
			Pattern:  spec.Pattern,
			Min:      spec.Min,
		}
	}
	return schema.New(out), nil
}

func ruleSpecs(cfg config.Entity) []rules.Rule {
	out := make([]rules.Rule, 0, len(cfg.Validations.Custom.Rules))
	for _, r := range cfg.Validations.Custom.Rules {
		out = append(out, rules.Rule{
			Field:  r.Field,
			Kind:   r.Validation,
			Params: r.Params,
		})
	}
	return out
}

func projectionSpecs(cfg config.Entity) []projection.Spec {
	out := make([]projection.Spec, 0, len(cfg.Projections))
	for _, p := range cfg.Projections {
		out = append(out, projection.Spec{
			Name:    p.Name,
			Kind:    p.Type,
			Query:   p.Query,
			Aliases: p.Aliases,
		})
	}
	return out
}

func ruleCounts(violations []rules.Violation) []export.RuleCount {
	out := make([]export.RuleCount, 0, len(violations))
	for _, v := range violations {
		out = append(out, export.RuleCount{Field: v.Field, Kind: v.Kind, Count: len(v.Rows)})
	}
	return out
}
