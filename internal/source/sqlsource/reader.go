// Package sqlsource implements source.Reader on top of database/sql.
//
// Backends (sqlite, mysql, mssql) differ only in identifier quoting, the
// paging clause and driver error classification, which they provide through
// a Dialect. Row scanning is shared: a dynamic column list is scanned into
// []any and copied into an ordered records.Record.
package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"bizdash/internal/source"
	"bizdash/pkg/records"
)

// Dialect captures the backend-specific SQL surface.
type Dialect interface {
	// QuoteIdent quotes one identifier part.
	QuoteIdent(id string) string

	// PageClause returns the clause appended after FROM/ORDER BY and its args
	// for a window of limit rows starting at offset. hasOrder reports whether
	// an ORDER BY was already emitted.
	PageClause(limit, offset int, hasOrder bool) (string, []any)

	// ListTablesSQL returns a query yielding one table name per row.
	ListTablesSQL() string

	// Classify converts a driver error into a *source.Error.
	Classify(table string, err error) error
}

// Reader is a source.Reader backed by *sql.DB.
type Reader struct {
	DB      *sql.DB
	Dialect Dialect
}

// New wraps db. The caller transfers ownership; Close closes db.
func New(db *sql.DB, d Dialect) *Reader {
	return &Reader{DB: db, Dialect: d}
}

// Read implements source.Reader.
func (r *Reader) Read(ctx context.Context, req source.Request) (source.Page, error) {
	if req.Limit() <= 0 {
		return source.Page{}, fmt.Errorf("sqlsource: invalid window [%d, %d]", req.From, req.To)
	}

	q, args := BuildSelect(r.Dialect, req)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return source.Page{}, r.Dialect.Classify(req.Table, err)
	}
	defer rows.Close()

	recs, err := ScanRecords(rows)
	if err != nil {
		return source.Page{}, r.Dialect.Classify(req.Table, err)
	}

	page := source.Page{Rows: recs}
	if req.CountTotal {
		var n int64
		cq := "SELECT COUNT(*) FROM " + QuoteTable(r.Dialect, req.Table)
		err := r.DB.QueryRowContext(ctx, cq).Scan(&n)
		switch {
		case err == nil:
			page.Total = &n
		case ctx.Err() != nil:
			return source.Page{}, r.Dialect.Classify(req.Table, err)
		default:
			page.CountErr = r.Dialect.Classify(req.Table, err)
		}
	}
	return page, nil
}

// ListTables implements source.TableLister.
func (r *Reader) ListTables(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, r.Dialect.ListTablesSQL())
	if err != nil {
		return nil, r.Dialect.Classify("", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (r *Reader) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// BuildSelect renders the page query for req.
//
// It is pure and deterministic, so column quoting and paging placeholders
// can be unit tested without a database.
func BuildSelect(d Dialect, req source.Request) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if req.SelectsAll() {
		b.WriteString("*")
	} else {
		for i, c := range req.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.QuoteIdent(strings.TrimSpace(c)))
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(QuoteTable(d, req.Table))

	hasOrder := false
	if req.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(d.QuoteIdent(req.OrderBy))
		hasOrder = true
	}

	clause, args := d.PageClause(req.Limit(), req.From, hasOrder)
	b.WriteString(" ")
	b.WriteString(clause)
	return b.String(), args
}

// QuoteTable quotes a possibly schema-qualified table name part by part.
func QuoteTable(d Dialect, table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// ScanRecords reads all remaining rows into ordered records.
//
// IMPORTANT: Scan destinations must be pointers. We allocate one `any` per
// column and pass their addresses, the standard pattern for scanning a
// dynamic column list.
func ScanRecords(rows *sql.Rows) ([]records.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []records.Record
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := records.Make(len(cols))
		for i, c := range cols {
			rec.Set(c, NormalizeValue(vals[i]))
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// NormalizeValue maps driver values onto the scalar set records carry.
// Drivers return text columns as []byte; those become strings (copied, since
// the driver may reuse the buffer).
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return v
	}
}
