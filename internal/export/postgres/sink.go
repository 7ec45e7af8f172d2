// Package postgres implements the optional Postgres export sink using pgx v5.
// When an entity configures export.kind: postgres, each built projection is
// additionally bulk-loaded into a Postgres table named after the projection.
// CSV artifacts are still written; the database sink is additive.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sink holds a connection pool for the duration of one run.
type Sink struct {
	pool *pgxpool.Pool
}

// Open constructs a Sink and returns a close function for cleanup.
func Open(ctx context.Context, dsn string) (*Sink, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	closeFn := func() { pool.Close() }
	return &Sink{pool: pool}, closeFn, nil
}

// Load recreates the target table with text columns and COPYs the projection
// contents into it. Projection exports are full refreshes, mirroring the
// frozen-at-build semantics of materialized projections.
func (s *Sink) Load(ctx context.Context, table string, columns []string, rows [][]string) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("postgres: load %s: no columns", table)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pgIdent(c) + " text"
	}
	if _, err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(table)); err != nil {
		return 0, fmt.Errorf("postgres: drop %s: %w", table, err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(
		"CREATE TABLE %s (%s)", pgIdent(table), strings.Join(defs, ", "),
	)); err != nil {
		return 0, fmt.Errorf("postgres: create %s: %w", table, err)
	}

	src := make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = v
		}
		src[i] = vals
	}

	n, err := conn.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(src))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy into %s: %w", table, err)
	}
	return n, nil
}

// pgIdent double-quotes an identifier for Postgres.
func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
