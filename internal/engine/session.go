// Package engine provides the relational query engine session the projection
// and export stages run against. It is backed by an embedded SQLite database
// (in-memory by default) through database/sql; the session is process-local,
// handed to stages by parameter, and closed on every exit path of a run.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite" // alternative: github.com/mattn/go-sqlite3
)

// DefaultDSN keeps the whole run in memory, matching the one-dataset-per-run
// lifecycle: nothing persists past Close except exported files.
const DefaultDSN = ":memory:"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Session is one scoped connection to the query engine. It is not safe for
// concurrent use; the pipeline is strictly sequential.
type Session struct {
	db *sql.DB
}

// Open opens a session against the given DSN and fails fast on invalid DSNs
// with a short ping timeout.
func Open(ctx context.Context, dsn string) (*Session, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("engine: open: %w", err)
	}
	// The projection stage creates views referencing the base table; a pooled
	// second connection to a :memory: DSN would see an empty database.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: ping: %w", err)
	}
	return &Session{db: db}, nil
}

// Close releases the underlying connection.
func (s *Session) Close() error {
	return s.db.Close()
}

// CreateBase drops and recreates the named base table and bulk-inserts the
// dataset inside a single transaction.
func (s *Session) CreateBase(ctx context.Context, table string, columns []string, rows [][]any) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if len(columns) == 0 {
		return fmt.Errorf("engine: create base %s: no columns", table)
	}
	for _, c := range columns {
		if err := checkIdent(c); err != nil {
			return err
		}
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return fmt.Errorf("engine: drop %s: %w", table, err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE %s (%s)", table, strings.Join(columns, ", "),
	)); err != nil {
		return fmt.Errorf("engine: create %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil
	}

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	stmtSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("engine: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("engine: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if len(row) != len(columns) {
			_ = tx.Rollback()
			return fmt.Errorf("engine: insert %s: row length %d != columns length %d", table, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("engine: insert %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("engine: commit: %w", err)
	}
	return nil
}

// CreateView creates or replaces a live view. Views re-evaluate on read, so
// their contents track the base table.
func (s *Session) CreateView(ctx context.Context, name, query string) error {
	if err := checkIdent(name); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", name)); err != nil {
		return fmt.Errorf("engine: drop view %s: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE VIEW %s AS %s", name, query)); err != nil {
		return fmt.Errorf("engine: create view %s: %w", name, err)
	}
	return nil
}

// CreateTableAs materializes a frozen snapshot of the query result.
func (s *Session) CreateTableAs(ctx context.Context, name, query string) error {
	if err := checkIdent(name); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
		return fmt.Errorf("engine: drop table %s: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", name, query)); err != nil {
		return fmt.Errorf("engine: create table %s: %w", name, err)
	}
	return nil
}

// Count returns the row count of a named relation (view or table).
func (s *Session) Count(ctx context.Context, relation string) (int64, error) {
	if err := checkIdent(relation); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", relation)).Scan(&n); err != nil {
		return 0, fmt.Errorf("engine: count %s: %w", relation, err)
	}
	return n, nil
}

// QueryAll fetches the full contents of a named relation as strings, for
// export. NULLs come back as empty strings.
func (s *Session) QueryAll(ctx context.Context, relation string) (columns []string, rows [][]string, err error) {
	if err := checkIdent(relation); err != nil {
		return nil, nil, err
	}
	res, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", relation))
	if err != nil {
		return nil, nil, fmt.Errorf("engine: query %s: %w", relation, err)
	}
	defer res.Close()

	columns, err = res.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("engine: columns %s: %w", relation, err)
	}
	for res.Next() {
		vals := make([]sql.NullString, len(columns))
		dest := make([]any, len(columns))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := res.Scan(dest...); err != nil {
			return nil, nil, fmt.Errorf("engine: scan %s: %w", relation, err)
		}
		row := make([]string, len(columns))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.String
			}
		}
		rows = append(rows, row)
	}
	if err := res.Err(); err != nil {
		return nil, nil, fmt.Errorf("engine: rows %s: %w", relation, err)
	}
	return columns, rows, nil
}

// checkIdent guards every interpolated relation/column name; queries built by
// the projection rewriter are validated separately.
func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("engine: invalid identifier %q", name)
	}
	return nil
}
