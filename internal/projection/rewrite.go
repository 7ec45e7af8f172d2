// Package projection derives named relations (live views and materialized
// tables) from the validated base dataset via declarative expressions with
// field aliasing.
//
// Expressions are rewritten with an identifier-validated token rewriter
// rather than raw substring replacement: identifiers are matched on word
// boundaries, the logical entity name resolves to the base table, alias
// sources in the select list are projected under their alias, and any
// identifier that is not the entity, a schema field, an alias target, or a
// known SQL keyword is rejected before the engine ever sees the query.
package projection

import (
	"fmt"
	"strings"
	"unicode"

	"refinery/internal/schema"
)

// sqlWords are the SQL keywords and functions the rewriter lets through
// without requiring a schema binding. Anything outside this set that is not
// a known field, alias, or the entity name is a configuration error.
var sqlWords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "as": {}, "and": {}, "or": {},
	"not": {}, "is": {}, "null": {}, "like": {}, "in": {}, "between": {},
	"group": {}, "by": {}, "order": {}, "having": {}, "limit": {},
	"offset": {}, "distinct": {}, "asc": {}, "desc": {}, "case": {},
	"when": {}, "then": {}, "else": {}, "end": {}, "cast": {}, "union": {},
	"all": {}, "count": {}, "sum": {}, "avg": {}, "min": {}, "max": {},
	"coalesce": {}, "upper": {}, "lower": {}, "length": {}, "substr": {},
	"date": {}, "integer": {}, "text": {}, "real": {},
}

type rewriter struct {
	entity    string
	baseTable string
	schema    *schema.Schema
	aliases   map[string]string
	aliasSet  map[string]struct{} // alias targets, accepted as identifiers
}

func newRewriter(entity, baseTable string, s *schema.Schema, aliases map[string]string) *rewriter {
	r := &rewriter{
		entity:    entity,
		baseTable: baseTable,
		schema:    s,
		aliases:   aliases,
		aliasSet:  make(map[string]struct{}, len(aliases)),
	}
	for _, alias := range aliases {
		r.aliasSet[alias] = struct{}{}
	}
	return r
}

// rewrite validates and rewrites the whole expression. Alias projection only
// applies to the select list (before the first top-level FROM); the entity
// name is rewritten everywhere.
func (r *rewriter) rewrite(query string) (string, error) {
	var out strings.Builder
	inSelectList := false

	for i := 0; i < len(query); {
		c := query[i]

		// Single-quoted literals pass through untouched.
		if c == '\'' {
			j := i + 1
			for j < len(query) && query[j] != '\'' {
				j++
			}
			if j < len(query) {
				j++
			}
			out.WriteString(query[i:j])
			i = j
			continue
		}

		if !isIdentStart(rune(c)) {
			out.WriteByte(c)
			i++
			continue
		}

		j := i + 1
		for j < len(query) && isIdentPart(rune(query[j])) {
			j++
		}
		word := query[i:j]
		i = j

		switch strings.ToLower(word) {
		case "select":
			inSelectList = true
			out.WriteString(word)
			continue
		case "from":
			inSelectList = false
			out.WriteString(word)
			continue
		}

		tok, err := r.rewriteToken(word, inSelectList)
		if err != nil {
			return "", err
		}
		out.WriteString(tok)
	}
	return out.String(), nil
}

func (r *rewriter) rewriteToken(word string, inSelectList bool) (string, error) {
	if word == r.entity {
		return r.baseTable, nil
	}
	if alias, ok := r.aliases[word]; ok && inSelectList {
		return fmt.Sprintf("%s AS %s", word, alias), nil
	}
	if r.schema.Has(word) {
		return word, nil
	}
	if _, ok := r.aliasSet[word]; ok {
		return word, nil
	}
	if _, ok := sqlWords[strings.ToLower(word)]; ok {
		return word, nil
	}
	return "", fmt.Errorf("unknown identifier %q in expression", word)
}

func isIdentStart(c rune) bool {
	return c == '_' || unicode.IsLetter(c)
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || unicode.IsDigit(c)
}
