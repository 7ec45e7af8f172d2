// Package csv loads one delimited tabular file fully into memory as the
// pipeline's input dataset. Headers are canonicalized (BOM strip, accent
// fold, snake_case) so field names match the entity schema regardless of the
// source file's localization quirks.
package csv

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"refinery/pkg/records"
)

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// Options configures loading. All fields are optional.
type Options struct {
	// Comma is the field delimiter; ',' when zero.
	Comma rune

	// TrimSpace trims leading/trailing spaces from each value.
	TrimSpace bool

	// HeaderMap maps canonicalized source headers to schema field names, for
	// sources whose headers do not canonicalize onto the schema directly.
	HeaderMap map[string]string
}

// Load reads the whole file and returns the canonical header plus the rows in
// input order, indexed from 1. Empty cells become nil; short rows leave their
// missing trailing fields nil.
func Load(path string, opt Options) ([]string, []records.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("csv: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if opt.Comma != 0 {
		r.Comma = opt.Comma
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	raw, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("csv: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("csv: %s has no header row", path)
	}

	header := make([]string, len(raw[0]))
	for i, cell := range raw[0] {
		if i == 0 {
			cell = strings.TrimPrefix(cell, utf8BOM)
		}
		name := CanonicalFieldName(cell)
		if mapped, ok := opt.HeaderMap[name]; ok && mapped != "" {
			name = mapped
		}
		header[i] = name
	}

	rows := make([]records.Row, 0, len(raw)-1)
	for n, line := range raw[1:] {
		rec := make(records.Record, len(header))
		for i, name := range header {
			if i >= len(line) {
				rec[name] = nil
				continue
			}
			v := line[i]
			if opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				rec[name] = nil
				continue
			}
			rec[name] = v
		}
		rows = append(rows, records.Row{Index: n + 1, Record: rec})
	}
	return header, rows, nil
}

// CanonicalFieldName lowercases, folds accents to ASCII, and collapses
// separators to single underscores.
func CanonicalFieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	// Decompose, remove nonspacing marks (accents), recompose.
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
