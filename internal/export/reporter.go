// Package export writes the pipeline's durable artifacts: per-stage error
// files, projection exports, and the human-readable run summary.
//
// Layout under the output root:
//
//	errors/<entity>_<stage>_errors.csv   one file per non-empty error set
//	exports/<projection>.csv             full contents of each built projection
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"refinery/internal/engine"
	"refinery/internal/rules"
	"refinery/internal/schema"
	"refinery/pkg/records"
)

// Reporter writes artifacts for one entity's run.
type Reporter struct {
	OutputDir string
	Entity    string

	// FieldOrder fixes the column layout of field snapshots in error files.
	FieldOrder []string
}

// WriteErrorRecords writes schema validation errors as
// errors/<entity>_<stage>_errors.csv with columns row, errors (semicolon
// joined), then the field snapshot. Empty sets produce no file.
func (r *Reporter) WriteErrorRecords(stage string, errs []schema.ErrorRecord) error {
	if len(errs) == 0 {
		log.Printf("no %s errors to save", stage)
		return nil
	}
	rows := make([][]string, 0, len(errs))
	for _, e := range errs {
		row := []string{strconv.Itoa(e.Row), joinMessages(e.Messages)}
		rows = append(rows, append(row, r.snapshot(e.Record)...))
	}
	return r.writeErrorFile(stage, append([]string{"row", "errors"}, r.FieldOrder...), rows)
}

// WriteRemovedRows writes a removed-row set (duplicates, skip-mode rule
// violations) with columns row then the field snapshot; the stage name in the
// file name implies the reason. Empty sets produce no file.
func (r *Reporter) WriteRemovedRows(stage string, removed []records.Row) error {
	if len(removed) == 0 {
		log.Printf("no %s errors to save", stage)
		return nil
	}
	rows := make([][]string, 0, len(removed))
	for _, rec := range removed {
		rows = append(rows, append([]string{strconv.Itoa(rec.Index)}, r.snapshot(rec.Record)...))
	}
	return r.writeErrorFile(stage, append([]string{"row"}, r.FieldOrder...), rows)
}

// WriteViolations writes one artifact per rule violation set, named
// custom_<field> after the violated rule's field.
func (r *Reporter) WriteViolations(violations []rules.Violation) error {
	for _, v := range violations {
		if err := r.WriteRemovedRows("custom_"+v.Field, v.Rows); err != nil {
			return err
		}
	}
	return nil
}

// ExportProjection writes the full contents of a built projection to
// exports/<name>.csv, comma-delimited with a header row.
func (r *Reporter) ExportProjection(ctx context.Context, sess *engine.Session, name string) error {
	columns, rows, err := sess.QueryAll(ctx, name)
	if err != nil {
		return err
	}
	dir := filepath.Join(r.OutputDir, "exports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name+".csv")
	if err := writeCSV(path, columns, rows); err != nil {
		return err
	}
	log.Printf("exported projection %q to %s", name, path)
	return nil
}

func (r *Reporter) writeErrorFile(stage string, header []string, rows [][]string) error {
	dir := filepath.Join(r.OutputDir, "errors")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_errors.csv", r.Entity, stage))
	if err := writeCSV(path, header, rows); err != nil {
		return err
	}
	log.Printf("%s errors saved to %s", stage, path)
	return nil
}

// snapshot renders a record's fields in the reporter's fixed column order.
func (r *Reporter) snapshot(rec records.Record) []string {
	out := make([]string, len(r.FieldOrder))
	for i, name := range r.FieldOrder {
		switch t := rec[name].(type) {
		case nil:
			out[i] = ""
		case string:
			out[i] = t
		default:
			out[i] = fmt.Sprint(t)
		}
	}
	return out
}

func joinMessages(msgs []string) string {
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += "; "
		}
		out += m
	}
	return out
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush %s: %w", path, err)
	}
	return nil
}
