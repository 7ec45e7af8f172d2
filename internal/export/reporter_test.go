package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"refinery/internal/engine"
	"refinery/internal/projection"
	"refinery/internal/rules"
	"refinery/internal/schema"
	"refinery/pkg/records"
)

func testReporter(t *testing.T) *Reporter {
	t.Helper()
	return &Reporter{
		OutputDir:  t.TempDir(),
		Entity:     "employees",
		FieldOrder: []string{"employee_id", "first_name"},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestWriteErrorRecords(t *testing.T) {
	r := testReporter(t)
	errs := []schema.ErrorRecord{
		{
			Row:      3,
			Record:   records.Record{"employee_id": int64(3), "first_name": nil},
			Messages: []string{"first_name: field required", "employee_id: value below minimum 5"},
		},
	}
	if err := r.WriteErrorRecords("schema_validation", errs); err != nil {
		t.Fatalf("write: %v", err)
	}

	path := filepath.Join(r.OutputDir, "errors", "employees_schema_validation_errors.csv")
	rows := readCSV(t, path)
	wantHeader := []string{"row", "errors", "employee_id", "first_name"}
	if !reflect.DeepEqual(rows[0], wantHeader) {
		t.Fatalf("header = %v, want %v", rows[0], wantHeader)
	}
	if rows[1][0] != "3" {
		t.Fatalf("row index column = %q", rows[1][0])
	}
	if !strings.Contains(rows[1][1], "; ") {
		t.Fatalf("messages not semicolon-joined: %q", rows[1][1])
	}
	if rows[1][2] != "3" || rows[1][3] != "" {
		t.Fatalf("snapshot = %v", rows[1][2:])
	}
}

func TestEmptySetWritesNothing(t *testing.T) {
	r := testReporter(t)
	if err := r.WriteErrorRecords("schema_validation", nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := r.WriteRemovedRows("duplicates", nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(r.OutputDir, "errors")); !os.IsNotExist(err) {
		t.Fatal("errors directory created for empty sets")
	}
}

func TestWriteRemovedRows(t *testing.T) {
	r := testReporter(t)
	removed := []records.Row{
		{Index: 2, Record: records.Record{"employee_id": int64(2), "first_name": "Bob"}},
		{Index: 5, Record: records.Record{"employee_id": int64(5), "first_name": "Eve"}},
	}
	if err := r.WriteRemovedRows("duplicates", removed); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows := readCSV(t, filepath.Join(r.OutputDir, "errors", "employees_duplicates_errors.csv"))
	if !reflect.DeepEqual(rows[0], []string{"row", "employee_id", "first_name"}) {
		t.Fatalf("header = %v", rows[0])
	}
	if len(rows) != 3 || rows[2][0] != "5" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestWriteViolationsNaming(t *testing.T) {
	r := testReporter(t)
	violations := []rules.Violation{
		{Field: "birthday_on", Kind: rules.KindAgeGte, Rows: []records.Row{
			{Index: 1, Record: records.Record{"employee_id": int64(1)}},
		}},
	}
	if err := r.WriteViolations(violations); err != nil {
		t.Fatalf("write: %v", err)
	}
	path := filepath.Join(r.OutputDir, "errors", "employees_custom_birthday_on_errors.csv")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("violation artifact missing: %v", err)
	}
}

func TestExportProjectionAndSummary(t *testing.T) {
	r := testReporter(t)
	ctx := context.Background()

	sess, err := engine.Open(ctx, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sess.Close()
	if err := sess.CreateBase(ctx, "adults", []string{"id", "name"},
		[][]any{{int64(1), "Ana"}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.ExportProjection(ctx, sess, "adults"); err != nil {
		t.Fatalf("export: %v", err)
	}
	rows := readCSV(t, filepath.Join(r.OutputDir, "exports", "adults.csv"))
	want := [][]string{{"id", "name"}, {"1", "Ana"}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("exported = %v, want %v", rows, want)
	}

	var buf strings.Builder
	s := Summary{
		TotalRows:         5,
		ValidRows:         4,
		SchemaErrors:      1,
		DuplicatesRemoved: 2,
		CustomInvalid:     1,
		Rules:             []RuleCount{{Field: "birthday_on", Kind: "age_gte", Count: 1}},
		Projections: []projection.Result{
			{Spec: projection.Spec{Name: "adults", Kind: "table"}},
			{Spec: projection.Spec{Name: "ghost", Kind: "view"}},
		},
	}
	s.Print(ctx, &buf, sess)
	out := buf.String()

	for _, want := range []string{
		"Total rows processed: 5",
		"adults (table): 1 rows",
		"ghost (view): error",
		"birthday_on (age_gte): 1 rows",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}
